// Package page extracts descriptive details from a rendered source page.
package page

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Info describes a rendered page.
type Info struct {
	Title   string // og:title, falling back to <title>
	Players int    // elements matching the confirmation selector
}

// Inspect parses html and reports its title and how many elements match selector.
// An empty selector skips the count.
func Inspect(html, selector string) (Info, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Info{}, fmt.Errorf("parsing page: %w", err)
	}

	info := Info{Title: title(doc)}
	if selector != "" {
		info.Players = doc.Find(selector).Length()
	}
	return info, nil
}

func title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if og = strings.TrimSpace(og); og != "" {
			return og
		}
	}
	return strings.Join(strings.Fields(doc.Find("head title").First().Text()), " ")
}
