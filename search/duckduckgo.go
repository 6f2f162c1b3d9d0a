package search

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

// DuckDuckGoBaseURL is the script-free DuckDuckGo results host.
const DuckDuckGoBaseURL = "https://html.duckduckgo.com"

// DuckDuckGo scrapes the DuckDuckGo HTML results page. It needs no
// credentials.
type DuckDuckGo struct {
	http       *upstream.Client
	maxResults int
	converter  *md.Converter
}

// NewDuckDuckGo wraps an upstream client pointed at DuckDuckGoBaseURL.
func NewDuckDuckGo(client *upstream.Client, maxResults int) *DuckDuckGo {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &DuckDuckGo{
		http:       client,
		maxResults: maxResults,
		converter:  md.NewConverter("", true, nil),
	}
}

var _ Client = (*DuckDuckGo)(nil)

// Search runs query and returns organic results in page order.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	body, err := d.http.Get(ctx, "/html/", url.Values{"q": {query}})
	if err != nil {
		return nil, upstream.MissingAsUpstream(err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, tool.Wrap(tool.KindUpstream, err, "duckduckgo: unreadable results page").
			WithDetails(map[string]any{"upstream": d.http.Name(), "reason": upstream.ReasonDecode})
	}

	results := make([]Result, 0, d.maxResults)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		target := resolveResultURL(href)
		if title == "" || target == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			URL:     target,
			Snippet: d.snippet(s.Find(".result__snippet").First()),
		})
		return len(results) < d.maxResults
	})
	return results, nil
}

func (d *DuckDuckGo) snippet(s *goquery.Selection) string {
	html, err := s.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return strings.TrimSpace(s.Text())
	}
	markdown, err := d.converter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(s.Text())
	}
	return strings.Join(strings.Fields(markdown), " ")
}

// resolveResultURL unwraps DuckDuckGo redirect links to the target URL.
func resolveResultURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
