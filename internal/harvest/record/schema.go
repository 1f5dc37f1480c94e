package record

import (
	"errors"
	"fmt"
	"strings"
)

// Schema is the ordered list of exported columns.
type Schema []string

// DefaultSchema is the column layout of the death row registry export.
func DefaultSchema() Schema {
	return Schema{
		"adc_number",
		"name",
		"comments",
		"proceedings",
		"aggravating",
		"mitigating",
		"pub_opinions",
		"mug_image",
		FieldSourceURL,
		FieldScrapeTime,
	}
}

func (s Schema) Index(column string) int {
	for i, c := range s {
		if c == column {
			return i
		}
	}
	return -1
}

func (s Schema) Contains(column string) bool {
	return s.Index(column) >= 0
}

// Without returns a copy of the schema without the given columns.
func (s Schema) Without(columns ...string) Schema {
	out := Schema{}
	for _, c := range s {
		skip := false
		for _, excluded := range columns {
			if c == excluded {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}

func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema has no columns")
	}
	var errs []error
	seen := map[string]bool{}
	for i, c := range s {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, fmt.Errorf("column %d is blank", i))
			continue
		}
		if seen[c] {
			errs = append(errs, fmt.Errorf("column %q is duplicated", c))
		}
		seen[c] = true
	}
	return errors.Join(errs...)
}
