package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Record is one listing lifted from a results page. Fields the page does not
// expose stay empty; extraction is best effort and never fails a whole page
// over one bad card.
type Record struct {
	Title       string `json:"title"`
	Org         string `json:"org"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	PostedAt    string `json:"postedAt,omitempty"`
	SalaryRange string `json:"salaryRange,omitempty"`
}

// Key identifies a record well enough for dedup across pages.
func (r Record) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Org)) + "|" + strings.ToLower(strings.TrimSpace(r.Title))
}

// Selectors maps a platform's results-page DOM onto Record fields. Item
// scopes each card; the rest are evaluated relative to it.
type Selectors struct {
	Item        string
	Title       string
	Org         string
	Location    string
	Description string
	Link        string
	PostedAt    string
	Salary      string
	// NextPage matches the pagination control on the page root.
	NextPage string
}

// DOMExtractor parses serialized page HTML into records.
type DOMExtractor struct {
	logger *zap.Logger
}

func NewDOMExtractor(logger *zap.Logger) *DOMExtractor {
	return &DOMExtractor{logger: logger.Named("extractor")}
}

// Records parses the page and lifts one record per item card. Cards missing
// both a title and an org are dropped as noise. Relative links are resolved
// against baseURL.
func (e *DOMExtractor) Records(html string, sel Selectors, baseURL string) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	base, _ := url.Parse(baseURL)

	var records []Record
	doc.Find(sel.Item).Each(func(i int, card *goquery.Selection) {
		rec := Record{
			Title:       cardText(card, sel.Title),
			Org:         cardText(card, sel.Org),
			Location:    cardText(card, sel.Location),
			Description: cardText(card, sel.Description),
			PostedAt:    cardText(card, sel.PostedAt),
			SalaryRange: cardText(card, sel.Salary),
		}
		if sel.Link != "" {
			if href, ok := card.Find(sel.Link).First().Attr("href"); ok {
				rec.URL = resolveURL(base, href)
			}
		}
		if rec.Title == "" && rec.Org == "" {
			e.logger.Debug("Skipping empty listing card", zap.Int("index", i))
			return
		}
		records = append(records, rec)
	})

	e.logger.Debug("Extracted listings", zap.Int("count", len(records)))
	return records, nil
}

// HasNextPage reports whether the pagination control is present and enabled.
func (e *DOMExtractor) HasNextPage(html string, sel Selectors) bool {
	if sel.NextPage == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	next := doc.Find(sel.NextPage).First()
	if next.Length() == 0 {
		return false
	}
	if _, disabled := next.Attr("disabled"); disabled {
		return false
	}
	return !next.HasClass("disabled")
}

func cardText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(card.Find(selector).First().Text())
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
