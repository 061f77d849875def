package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var descriptionSelectors = []string{
	`meta[name="description"]`,
	`meta[property="og:description"]`,
	`meta[name="twitter:description"]`,
}

var titleSelectors = []string{
	`meta[property="og:title"]`,
	`meta[name="twitter:title"]`,
}

// Description returns the page's meta description, preferring the plain
// description tag over Open Graph and Twitter variants.
func Description(doc *goquery.Document) string {
	return firstMetaContent(doc, descriptionSelectors)
}

// Title returns the page's title, preferring social-card metadata over the
// document <title>, which usually carries a trailing site name.
func Title(doc *goquery.Document) string {
	if t := firstMetaContent(doc, titleSelectors); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// firstMetaContent returns the first selector whose leading match has
// non-blank content. An empty content attribute falls through to the next
// selector, not the next tag.
func firstMetaContent(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				return c
			}
		}
	}
	return ""
}
