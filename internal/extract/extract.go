// Package extract turns fetched markup into a title and readable body text.
// Extraction is pure: no I/O, no clock, and a degraded regex path instead of
// failure when the markup defeats the parser.
package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chromeSelectors match the page furniture stripped before text extraction.
const chromeSelectors = "script, style, nav, footer, header, form, aside"

// Extract returns the page title and body text. The body is taken from the
// first article element, else main, else the whole document body, with
// whitespace collapsed. Empty markup yields empty output, never an error.
func Extract(markup string) (title, body string) {
	if strings.TrimSpace(markup) == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return extractWithRegex(markup)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).First().Attr("content")
		title = strings.TrimSpace(title)
	}

	doc.Find(chromeSelectors).Remove()

	scope := doc.Find("article").First()
	if scope.Length() == 0 {
		scope = doc.Find("main").First()
	}
	if scope.Length() == 0 {
		scope = doc.Find("body").First()
	}

	return normalizeSpace(title), normalizeSpace(scope.Text())
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	titleRe       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// extractWithRegex is the degraded path: strip script and style blocks, then
// every remaining tag. It loses document structure but never fails.
func extractWithRegex(markup string) (title, body string) {
	if m := titleRe.FindStringSubmatch(markup); len(m) == 2 {
		title = html.UnescapeString(m[1])
	}
	stripped := scriptBlockRe.ReplaceAllString(markup, " ")
	stripped = styleBlockRe.ReplaceAllString(stripped, " ")
	stripped = tagRe.ReplaceAllString(stripped, " ")
	return normalizeSpace(title), normalizeSpace(html.UnescapeString(stripped))
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
