package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText returns the concatenated text of every text node under `node`,
// a <br> becomes a newline and whitespace inside text nodes (including the
// newlines of the markup itself) becomes a single space.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(innerWhitespace.ReplaceAllString(node.Data, " "))
		return
	}
	if node.Type == html.ElementNode && node.Data == "br" {
		buffer.WriteString("\n")
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizeText strips non-printable characters, trims the ends and collapses
// runs of inner whitespace into a single space.
func NormalizeText(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return s
}

// NormalizeLines is NormalizeText applied to every line of `s`. Blank lines
// at either end are dropped and runs of blank lines inside become one.
func NormalizeLines(s string) string {
	lines := []string{}
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = NormalizeText(line)
		if line == "" {
			blank = len(lines) > 0
			continue
		}
		if blank {
			lines = append(lines, "")
			blank = false
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// SelectionText is the normalized text of the first node of `sel`, or an
// empty string if the selection is empty. Line breaks marked with <br> are kept.
func SelectionText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return NormalizeLines(GetText(sel.Nodes[0]))
}

// ResolveURL resolves `ref` against `base`, if `ref` cannot be parsed it is
// returned trimmed but otherwise untouched.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

type Anchor struct {
	Name string
	Href string
	Url  *url.URL
}

// GetAnchors reads every anchor in `sel`, the anchor's href is resolved against `base`.
// Anchors with an unparsable or missing href are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = strings.TrimSpace(a.Val)
				break
			}
		}
		if href == "" {
			continue
		}

		link, err := url.Parse(href)
		if err != nil {
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		anchors = append(anchors, Anchor{
			Name: NormalizeText(GetText(n)),
			Href: href,
			Url:  link,
		})
	}

	return anchors
}
