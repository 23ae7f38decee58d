package digest

import (
	"fmt"
	"html"
	"strings"
)

// renderHTML lays the digest out as a single-column mail body.
func renderHTML(articles []Article) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	b.WriteString("<h2>Site watch digest</h2>\n")
	for _, a := range articles {
		b.WriteString(`<div style="margin-bottom:24px">` + "\n")
		if a.URL != "" {
			fmt.Fprintf(&b, `<h3><a href="%s">%s</a></h3>`+"\n",
				html.EscapeString(a.URL), html.EscapeString(orUntitled(a.Title)))
		} else {
			fmt.Fprintf(&b, "<h3>%s</h3>\n", html.EscapeString(orUntitled(a.Title)))
		}
		if a.Image != "" {
			fmt.Fprintf(&b, `<img src="%s" alt="" style="max-width:480px">`+"\n",
				html.EscapeString(a.Image))
		}
		if a.Summary != "" {
			fmt.Fprintf(&b, "<p><em>%s</em></p>\n", html.EscapeString(a.Summary))
		}
		if a.MiniArticle != "" {
			fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(a.MiniArticle))
		}
		meta := metaLine(a)
		if meta != "" {
			fmt.Fprintf(&b, `<p style="color:#666;font-size:12px">%s</p>`+"\n", meta)
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func metaLine(a Article) string {
	parts := make([]string, 0, 3)
	if a.Source != "" {
		parts = append(parts, html.EscapeString(a.Source))
	}
	if a.Date != "" {
		parts = append(parts, html.EscapeString(a.Date))
	}
	if len(a.Tags) > 0 {
		parts = append(parts, html.EscapeString(strings.Join(a.Tags, ", ")))
	}
	return strings.Join(parts, " &middot; ")
}

func orUntitled(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Untitled"
	}
	return title
}
