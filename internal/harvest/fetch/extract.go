package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

const (
	report_extractor_extract = "extractor.extract"
)

// FieldSpec describes where one field lives on a detail page. When Attr is
// set the attribute value is used instead of the element text, `src` and
// `href` attributes are resolved to absolute addresses.
type FieldSpec struct {
	Name     string
	Selector string
	Attr     string
}

func (f FieldSpec) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("field has no name")
	}
	_, err := cascadia.Compile(f.Selector)
	if err != nil {
		return fmt.Errorf("field %s: invalid selector %q: %w", f.Name, f.Selector, err)
	}
	return nil
}

// DefaultFields are the selectors of the death row registry detail page.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Name: "adc_number", Selector: "#lblInmateNumber"},
		{Name: "name", Selector: "#lblName"},
		{Name: "comments", Selector: "#lblComments"},
		{Name: "proceedings", Selector: "#lblProceedings"},
		{Name: "aggravating", Selector: "#lblAggrave"},
		{Name: "mitigating", Selector: "#lblMitigate"},
		{Name: "pub_opinions", Selector: "#lblOpinion"},
		{Name: "mug_image", Selector: "img#ImgIMNO_Crime", Attr: "src"},
	}
}

// Extractor reads a fixed set of fields out of a parsed page.
type Extractor struct {
	fields []FieldSpec
	tel    telemetry.API
}

func NewExtractor(fields []FieldSpec, tel telemetry.API) Extractor {
	return Extractor{
		fields: fields,
		tel:    telemetry.NewScopedAPI("extractor", tel),
	}
}

// Extract returns a value for every field, fields whose element is missing
// are an empty string. `matched` counts the fields whose selector found an element.
func (e Extractor) Extract(doc *goquery.Document, base *url.URL) (values map[string]string, matched int) {
	values = make(map[string]string, len(e.fields))
	for _, field := range e.fields {
		sel := doc.Find(field.Selector).First()
		if sel.Length() == 0 {
			e.tel.ReportDebug("field missing", field.Name, field.Selector)
			values[field.Name] = ""
			continue
		}
		matched++

		if field.Attr == "" {
			values[field.Name] = htmlutil.SelectionText(sel)
			continue
		}

		attr := strings.TrimSpace(sel.AttrOr(field.Attr, ""))
		switch strings.ToLower(field.Attr) {
		case "src", "href":
			attr = htmlutil.ResolveURL(base, attr)
		}
		values[field.Name] = attr
	}
	return values, matched
}

// build creates the record of a fetched page, stamping provenance and capture time.
func (e Extractor) build(values map[string]string, sourceUrl, capturedAt string) record.Record {
	values[record.FieldSourceURL] = sourceUrl
	values[record.FieldScrapeTime] = capturedAt
	return record.New(values)
}

func (e Extractor) warnIfEmpty(locator record.Locator, matched int) {
	if matched == 0 && len(e.fields) > 0 {
		e.tel.ReportWarning(
			report_extractor_extract,
			fmt.Errorf("no field selector matched"),
			locator.String(),
		)
	}
}
