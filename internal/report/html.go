package report

import (
	"fmt"
	"html"
	"strings"

	"github.com/veilletech/sitewatch/internal/watch"
)

// RenderHTML wraps a plain-text report for HTML mail delivery, followed by a
// table of the new publications when there are any.
func RenderHTML(reportText string, items []watch.Item) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	b.WriteString("<h2>Site watch report</h2>\n")
	fmt.Fprintf(&b, "<pre style=\"font-family:monospace;white-space:pre-wrap\">%s</pre>\n",
		html.EscapeString(reportText))

	if len(items) > 0 {
		b.WriteString("<h3>New publications</h3>\n")
		b.WriteString(`<table border="1" cellpadding="6" cellspacing="0">` + "\n")
		b.WriteString("<tr><th>Source</th><th>Date</th><th>Summary</th><th>Impact</th><th>Recommendation</th><th>Link</th></tr>\n")
		for _, item := range items {
			b.WriteString("<tr>")
			writeCell(&b, orElse(item.Source, notSpecified))
			writeCell(&b, orElse(item.PublicationDate, notSpecified))
			writeCell(&b, orElse(item.Summary, notSpecified))
			writeCell(&b, orElse(item.Impact, notSpecified))
			writeCell(&b, orElse(item.Recommendation, notSpecified))
			if item.Link != "" {
				fmt.Fprintf(&b, `<td><a href="%s">%s</a></td>`,
					html.EscapeString(item.Link), html.EscapeString(item.Link))
			} else {
				writeCell(&b, notAvailable)
			}
			b.WriteString("</tr>\n")
		}
		b.WriteString("</table>\n")
	}

	b.WriteString("</body></html>")
	return b.String()
}

func writeCell(b *strings.Builder, value string) {
	fmt.Fprintf(b, "<td>%s</td>", html.EscapeString(value))
}
