package crawl

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// whitespaceRuns collapses any run of whitespace down to its first character.
var whitespaceRuns = regexp.MustCompile(`(\s)\s+`)

// ignoredElements are tags whose subtrees contribute no body text: styling,
// scripting, metadata, chrome and embedded media.
var ignoredElements = map[string]struct{}{
	"style":       {},
	"script":      {},
	"noscript":    {},
	"svg":         {},
	"canvas":      {},
	"meta":        {},
	"slot":        {},
	"template":    {},
	"head":        {},
	"title":       {},
	"link":        {},
	"base":        {},
	"footer":      {},
	"header":      {},
	"nav":         {},
	"search":      {},
	"img":         {},
	"area":        {},
	"audio":       {},
	"map":         {},
	"video":       {},
	"embed":       {},
	"iframe":      {},
	"fencedframe": {},
	"object":      {},
	"picture":     {},
	"portal":      {},
	"source":      {},
	"math":        {},
}

// Document is the parsed view of one fetched page.
type Document struct {
	Title string
	Body  string
	Links []*url.URL
}

// ParseDocument extracts title, body text and outgoing links from an HTML
// page. base is the page's own URL; relative hrefs resolve against it and a
// link back to the page itself is dropped.
func ParseDocument(content string, base *url.URL) (*Document, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &Document{
		Title: extractTitle(root),
		Body:  extractBody(root),
		Links: extractLinks(root, base),
	}, nil
}

func extractTitle(node *html.Node) string {
	var title string
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if title != "" {
				return
			}
			walker(child)
		}
	}
	walker(node)
	return title
}

// extractBody joins the text nodes outside ignored subtrees with single
// spaces, then collapses whitespace runs.
func extractBody(node *html.Node) string {
	var parts []string
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := ignoredElements[strings.ToLower(n.Data)]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walker(child)
		}
	}
	walker(node)
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(strings.Join(parts, " "), "$1"))
}

// extractLinks resolves every <a href> against the page URL, strips
// fragments, drops self-links and unparseable hrefs, and deduplicates in
// document order.
func extractLinks(node *html.Node, base *url.URL) []*url.URL {
	self := *base
	self.Fragment = ""
	selfStr := self.String()

	seen := make(map[string]struct{})
	var links []*url.URL
	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				resolved, err := base.Parse(attr.Val)
				if err != nil {
					break
				}
				resolved.Fragment = ""
				target := resolved.String()
				if target == selfStr {
					break
				}
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					links = append(links, resolved)
				}
				break
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walker(child)
		}
	}
	walker(node)
	return links
}
