// Package transport builds the HTTP clients shared by the enumerators and fetchers.
package transport

import (
	"net/http/cookiejar"
	"time"

	"registry-harvester/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	UserAgent string
	// Timeout bounds every single request, a timed out request is a failed request.
	Timeout          time.Duration
	CloudflareBypass bool
	// Pacer is waited on before every request, including each page of an
	// enumeration and each step of a postback chain.
	Pacer Pacer
	// Dump receives the full text of every HTTP exchange when set.
	Dump telemetry.MessageOutput
}

// NewClient creates a resty client with a cookie jar (so session cookies set by
// the site survive between requests), a browser user agent and request instrumentation.
func NewClient(opts Options, tel telemetry.API) (*resty.Client, error) {
	client := resty.New()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)

	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 60
	}
	client.SetTimeout(timeout)

	// registered before instrumentation so request spans exclude the wait
	if opts.Pacer != nil {
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return opts.Pacer.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel, opts.Dump)

	return client, nil
}
