// Package enumerate discovers the locators of the records to harvest.
package enumerate

import (
	"context"
	"errors"
	"fmt"

	"registry-harvester/internal/harvest/record"

	"github.com/samber/lo"
)

// ErrDiscoveryFailed is wrapped by every error an Enumerator returns. It
// means discovery broke, as opposed to a nil error with no locators which
// means there is nothing to harvest.
var ErrDiscoveryFailed = errors.New("discovery failed")

// Enumerator produces a finite, ordered and deduplicated list of locators.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]record.Locator, error)
}

func discoveryFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDiscoveryFailed, fmt.Sprintf(format, args...))
}

// dedupe drops repeated locators, keeping the first occurrence.
func dedupe(locators []record.Locator) []record.Locator {
	return lo.UniqBy(locators, func(l record.Locator) string {
		if l.URL != "" {
			return "url:" + l.URL
		}
		if l.IsPostback() {
			return fmt.Sprintf("postback:%d:%s:%s", l.Page, l.Target, l.Argument)
		}
		return "id:" + l.ID
	})
}
