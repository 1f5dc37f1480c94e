// Package aspnet emulates the WebForms postback cycle: the hidden form state
// (__VIEWSTATE, __EVENTVALIDATION and friends) is harvested from every page and
// sent back with the next submission.
package aspnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_session_load     = "session.load"
	report_session_postback = "session.postback"
)

const (
	FieldEventTarget      = "__EVENTTARGET"
	FieldEventArgument    = "__EVENTARGUMENT"
	FieldViewState        = "__VIEWSTATE"
	FieldEventValidation  = "__EVENTVALIDATION"
	FieldViewStateGen     = "__VIEWSTATEGENERATOR"
	FieldLastFocus        = "__LASTFOCUS"
	FieldViewStateEncrypt = "__VIEWSTATEENCRYPTED"
)

// ErrNoFormState is returned when a page carries none of the hidden WebForms fields,
// usually meaning the site served an error page or a bot challenge instead.
var ErrNoFormState = errors.New("page has no form state")

// Event is a postback event, as found in `javascript:__doPostBack('target','argument')`.
type Event struct {
	Target   string
	Argument string
}

// Submission is a postback event together with the extra form fields sent with
// it, ex. the search button that turns the blank form into a result grid.
type Submission struct {
	Event  Event
	Fields map[string]string
}

var postbackHref = regexp.MustCompile(`__doPostBack\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)

// ParsePostbackHref extracts the postback event from an anchor href.
func ParsePostbackHref(href string) (Event, bool) {
	groups := postbackHref.FindStringSubmatch(href)
	if len(groups) < 3 {
		return Event{}, false
	}
	return Event{Target: groups[1], Argument: groups[2]}, true
}

// Session is a single browsing session against a WebForms page. It is not
// safe for concurrent use, every submission depends on the state returned by the previous one.
type Session struct {
	http     *resty.Client
	endpoint *url.URL
	action   *url.URL
	state    url.Values
	tel      telemetry.API
}

func NewSession(http *resty.Client, endpoint string, tel telemetry.API) (*Session, error) {
	assert.NotNil(http)
	assert.NotNil(tel)

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("endpoint %q is not absolute", endpoint)
	}

	return &Session{
		http:     http,
		endpoint: parsed,
		action:   parsed,
		tel:      telemetry.NewScopedAPI("aspnet", tel),
	}, nil
}

// Endpoint is the address every postback is submitted to.
func (s *Session) Endpoint() string {
	return s.action.String()
}

// Loaded reports whether the session holds form state.
func (s *Session) Loaded() bool {
	return len(s.state) > 0
}

// Token returns the current value of a hidden form field.
func (s *Session) Token(name string) string {
	return s.state.Get(name)
}

// Load fetches the form page with a GET, resetting the session state.
func (s *Session) Load(ctx context.Context) (*goquery.Document, error) {
	s.state = nil
	s.action = s.endpoint

	res, err := s.http.R().
		SetContext(ctx).
		Get(s.endpoint.String())
	if err != nil {
		s.tel.ReportBroken(report_session_load, fmt.Errorf("fetch: %w", err), s.endpoint.String())
		return nil, err
	}
	return s.absorb(res, report_session_load)
}

// Submit is Postback for a Submission.
func (s *Session) Submit(ctx context.Context, submission Submission) (*goquery.Document, error) {
	return s.Postback(ctx, submission.Event, submission.Fields)
}

// Postback submits the form with the given event and any extra fields
// (ex. the text of a search box or the name of a submit button).
func (s *Session) Postback(ctx context.Context, event Event, extra map[string]string) (*goquery.Document, error) {
	if !s.Loaded() {
		return nil, fmt.Errorf("postback before load: %w", ErrNoFormState)
	}

	form := map[string]string{}
	for key := range s.state {
		form[key] = s.state.Get(key)
	}
	form[FieldEventTarget] = event.Target
	form[FieldEventArgument] = event.Argument
	for key, value := range extra {
		form[key] = value
	}

	s.tel.ReportDebug("postback", s.action.String(), event.Target, event.Argument)

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("referer", s.action.String()).
		SetFormData(form).
		Post(s.action.String())
	if err != nil {
		s.tel.ReportBroken(report_session_postback, fmt.Errorf("fetch: %w", err), event.Target, event.Argument)
		return nil, err
	}
	return s.absorb(res, report_session_postback)
}

// absorb parses a response and replaces the session state with the one found in it.
func (s *Session) absorb(res *resty.Response, reportId string) (*goquery.Document, error) {
	if res.IsError() {
		err := fmt.Errorf("unexpected status %s", res.Status())
		s.tel.ReportBroken(reportId, err, res.Request.URL)
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		s.tel.ReportBroken(reportId, fmt.Errorf("parse html: %w", err), res.Request.URL)
		return nil, err
	}

	state := HiddenFields(doc)
	if state.Get(FieldViewState) == "" && state.Get(FieldEventValidation) == "" {
		s.tel.ReportWarning(reportId, ErrNoFormState, res.Request.URL)
		return nil, ErrNoFormState
	}
	s.state = state

	action, ok := doc.Find("form").First().Attr("action")
	if ok && strings.TrimSpace(action) != "" {
		ref, err := url.Parse(strings.TrimSpace(action))
		if err == nil {
			s.action = s.endpoint.ResolveReference(ref)
		}
	}

	return doc, nil
}

// HiddenFields collects every named hidden input of the first form on the page
// (or of the whole page when there is no form element).
func HiddenFields(doc *goquery.Document) url.Values {
	scope := doc.Find("form").First()
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	values := url.Values{}
	scope.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		values.Set(name, input.AttrOr("value", ""))
	})
	return values
}
