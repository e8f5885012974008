package metadata

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

var (
	htmlTagPattern  = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|sup|sub|h[1-6]|blockquote)[\s>/]`)
	anyTagPattern   = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

func containsHTML(s string) bool {
	return htmlTagPattern.MatchString(strings.ToLower(s))
}

// plainText returns s with markup removed and entities decoded. Harvested
// Dublin Core titles regularly carry <i>, <sup> or &amp;.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return collapseWhitespace(s)
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseWhitespace(html.UnescapeString(anyTagPattern.ReplaceAllString(s, " ")))
	}

	var buf strings.Builder
	extractText(doc, &buf)
	return collapseWhitespace(buf.String())
}

func extractText(n *html.Node, buf *strings.Builder) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	if n.Type == html.ElementNode && n.Data == "br" {
		buf.WriteString(" ")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6":
			buf.WriteString(" ")
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// descriptionToMarkdown converts an HTML abstract to Markdown for display.
// Plain text passes through unchanged.
func descriptionToMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !containsHTML(s) {
		return s
	}

	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(markdown)
}
