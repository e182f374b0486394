package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// skipped elements never contribute text
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"nav": true, "footer": true, "header": true, "aside": true, "form": true,
}

// blocks are the elements whose text makes up an article
var blocks = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "li": true, "blockquote": true,
}

// ArticleText extracts the readable body of a page. Text blocks inside
// <article> are preferred; without one, blocks anywhere in the body are used,
// and a page with no blocks at all falls back to its visible text. Blocks
// are separated by a blank line.
func ArticleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	root := findFirst(doc, "article")
	if root == nil {
		root = doc
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.Data] {
				return
			}
			if blocks[n.Data] {
				if text := collapse(textOf(n)); text != "" {
					parts = append(parts, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(parts) == 0 {
		return collapse(textOf(doc)), nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// Title returns the document <title>, or the first <h1>
func Title(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	if n := findFirst(doc, "title"); n != nil {
		if t := collapse(textOf(n)); t != "" {
			return t
		}
	}
	if n := findFirst(doc, "h1"); n != nil {
		return collapse(textOf(n))
	}
	return ""
}

// StripTags removes markup from text that may contain HTML fragments
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	depth := 0 // Inside script/style
	for {
		switch z.Next() {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				depth++
			}
			buf.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && depth > 0 {
				depth--
			}
			buf.WriteByte(' ')
		case html.SelfClosingTagToken:
			buf.WriteByte(' ')
		case html.TextToken:
			if depth == 0 {
				buf.Write(z.Text())
			}
		}
	}
}

// textOf concatenates the visible text under n, skipping non-content elements
func textOf(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return buf.String()
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
