// Package fetch retrieves the detail content of a single record and turns it
// into a record.Record. Every strategy implements Fetcher, the pipeline never
// knows which one it is talking to.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"registry-harvester/internal/harvest/record"
)

// ErrFetchFailed is wrapped by every error a Fetcher returns.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher retrieves one record. A failure is returned as a *FetchError, it
// is never a reason to stop fetching other locators.
type Fetcher interface {
	Fetch(ctx context.Context, locator record.Locator) (record.Record, error)
}

type FetchError struct {
	Locator record.Locator
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Locator, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

func failed(locator record.Locator, err error) error {
	return &FetchError{Locator: locator, Err: err}
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator record.Locator) (record.Record, error)

func (f FetcherFunc) Fetch(ctx context.Context, locator record.Locator) (record.Record, error) {
	return f(ctx, locator)
}
