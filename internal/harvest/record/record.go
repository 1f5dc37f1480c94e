package record

import (
	"fmt"
	"maps"
	"strings"
)

const (
	// FieldSourceURL holds the address used to obtain a record.
	FieldSourceURL = "source_url"
	// FieldScrapeTime holds the UTC capture time of a record.
	FieldScrapeTime = "scrape_time_utc"
)

// Locator points at one record on the remote resource. Either URL is set
// (an addressable detail page) or Target/Argument are (a postback event on
// the search form, found on result page Page).
type Locator struct {
	ID       string
	URL      string
	Target   string
	Argument string
	Page     int
}

func (l Locator) IsPostback() bool {
	return l.Target != ""
}

func (l Locator) String() string {
	switch {
	case l.URL != "":
		return l.URL
	case l.IsPostback():
		return fmt.Sprintf("postback(%s, %s)", l.Target, l.Argument)
	default:
		return l.ID
	}
}

// Record is a flat, immutable mapping of field name to value.
type Record struct {
	fields map[string]string
}

// New creates a Record from a copy of `fields`, every value is trimmed.
func New(fields map[string]string) Record {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = strings.TrimSpace(v)
	}
	return Record{fields: copied}
}

// Get returns the value of a field, missing fields are an empty string.
func (r Record) Get(name string) string {
	return r.fields[name]
}

// Has reports whether the field was populated at all.
func (r Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Fields returns a copy of the underlying fields.
func (r Record) Fields() map[string]string {
	return maps.Clone(r.fields)
}

// Row lays out the record according to `schema`, every column has a value.
func (r Record) Row(schema Schema) []string {
	row := make([]string, len(schema))
	for i, column := range schema {
		row[i] = r.fields[column]
	}
	return row
}

// Empty reports whether no field other than provenance and capture time has a value.
func (r Record) Empty() bool {
	for k, v := range r.fields {
		if k == FieldSourceURL || k == FieldScrapeTime {
			continue
		}
		if v != "" {
			return false
		}
	}
	return true
}
