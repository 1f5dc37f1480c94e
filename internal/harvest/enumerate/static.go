package enumerate

import (
	"context"
	"net/url"
	"strings"

	"registry-harvester/internal/harvest/record"

	"github.com/samber/lo"
)

// IDPlaceholder is replaced by the record id in detail url templates.
const IDPlaceholder = "{id}"

// Static enumerates a fixed list of record ids.
type Static struct {
	ids      []string
	template string
}

// NewStatic creates a Static enumerator. When `template` is set every
// locator gets a detail url with the id substituted for IDPlaceholder.
func NewStatic(ids []string, template string) Static {
	return Static{ids: ids, template: template}
}

func (s Static) Enumerate(context.Context) ([]record.Locator, error) {
	ids := lo.Filter(s.ids, func(id string, _ int) bool {
		return strings.TrimSpace(id) != ""
	})
	locators := lo.Map(ids, func(id string, _ int) record.Locator {
		id = strings.TrimSpace(id)
		return record.Locator{ID: id, URL: DetailURL(s.template, id)}
	})
	return dedupe(locators), nil
}

// DetailURL fills the template with the escaped id, an empty template gives an empty url.
func DetailURL(template, id string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, IDPlaceholder, url.QueryEscape(id))
}
