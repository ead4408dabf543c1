package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespace = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ExtractHTML pulls the title and paragraph text out of a legal portal page.
// Word-exported pages keep their body in .WordSection1; otherwise every <p>
// in the body is used, and failing that the whole body text.
func ExtractHTML(html string) (title string, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	title = collapse(doc.Find("title").First().Text())
	if title == "" {
		title = collapse(doc.Find("h1").First().Text())
	}

	container := doc.Find(".WordSection1")
	if container.Length() == 0 {
		container = doc.Find("body")
	}

	var paragraphs []string
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		t := collapse(strings.ReplaceAll(p.Text(), "\u00a0", " "))
		if t != "" {
			paragraphs = append(paragraphs, t)
		}
	})

	if len(paragraphs) > 0 {
		return title, strings.Join(paragraphs, "\n\n"), nil
	}
	return title, collapse(strings.ReplaceAll(container.Text(), "\u00a0", " ")), nil
}
