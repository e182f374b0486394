package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/nocap/internal/model"
)

// SearchResults parses a DuckDuckGo HTML results page. Redirect links are
// unwrapped to their target, relative links are resolved against baseURL and
// results are deduplicated by URL in page order.
func SearchResults(htmlContent, baseURL string) ([]model.WebResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	var results []model.WebResult
	current := -1 // Result the next snippet belongs to

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				if link := resolveURL(base, attr(n, "href")); link != "" {
					results = append(results, model.WebResult{
						URL:   link,
						Title: collapse(textOf(n)),
					})
					current = len(results) - 1
				} else {
					current = -1
				}
				return
			case hasClass(n, "result__snippet"):
				if current >= 0 && results[current].Snippet == "" {
					results[current].Snippet = collapse(textOf(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return dedupeResults(results), nil
}

// resolveURL resolves href against base and unwraps search-engine redirects.
// Anchors and non-http links resolve to "".
func resolveURL(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)

	if target := resolved.Query().Get("uddg"); target != "" && strings.HasPrefix(resolved.Path, "/l/") {
		if unwrapped, err := url.Parse(target); err == nil {
			resolved = unwrapped
		}
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

func dedupeResults(results []model.WebResult) []model.WebResult {
	seen := make(map[string]bool)
	unique := make([]model.WebResult, 0, len(results))

	for _, r := range results {
		if !seen[r.URL] {
			seen[r.URL] = true
			unique = append(unique, r)
		}
	}

	return unique
}
