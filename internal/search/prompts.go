package search

import (
	"fmt"
	"strings"
)

const maxInlineChars = 15000

func discoveryPrompt(site string, keywords []string, windowDays int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check the site %s and identify publications from the last %d days related to the following keywords: %s.\n",
		site, windowDays, strings.Join(keywords, ", "))
	b.WriteString("Answer STRICTLY as a JSON array with no text before or after it. ")
	b.WriteString("Each element must be an object with exactly these keys: ")
	b.WriteString(`"Source", "Summary", "PublicationDate", "Impact", "Recommendation", "Link". `)
	b.WriteString(`"Link" must be the direct URL of the publication. If nothing matches, answer [].`)
	return b.String()
}

func reportPrompt(itemsJSON string) string {
	var b strings.Builder
	b.WriteString("Write a strategic monitoring report from the publications below. ")
	b.WriteString("Structure it with: a short overview, one analysis per publication ")
	b.WriteString("(source, date, summary, impact, recommendation), a global synthesis, ")
	b.WriteString("and a list of priority recommendations. Plain text only.\n\n")
	b.WriteString("Publications:\n")
	b.WriteString(itemsJSON)
	return b.String()
}

func summarizeURLPrompt(url string) string {
	return fmt.Sprintf("Summarize the main content of the page at %s in a few sentences.", url)
}

func summarizeTextPrompt(url, text string) string {
	if len(text) > maxInlineChars {
		text = text[:maxInlineChars]
	}
	return fmt.Sprintf("Summarize the following content from %s in a few sentences:\n\n%s", url, text)
}
