package yad2

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	pageOfHebrewRe  = regexp.MustCompile(`עמוד\s+(\d+)\s+מתוך\s+(\d+)`)
	pageOfEnglishRe = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)
	pageParamRe     = regexp.MustCompile(`[?&]page=(\d+)(?:&|#|$)`)
)

// PageHints is what a rendered page says about pagination.
type PageHints struct {
	// "page X of Y" text, when present.
	HasPageText bool
	Current     int
	Total       int
	// An anchor pointing at page pageIndex+1.
	NextLink bool
	// At least one site-specific result container rendered.
	HasContainer bool
}

// Hints reads pagination affordances from a rendered page.
func Hints(dom string, pageIndex int) PageHints {
	var h PageHints
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		return h
	}
	doc.Find("script, style, noscript").Remove()

	text := doc.Find("body").Text()
	for _, re := range []*regexp.Regexp{pageOfHebrewRe, pageOfEnglishRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			cur, err1 := strconv.Atoi(m[1])
			total, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil && total > 0 {
				h.HasPageText, h.Current, h.Total = true, cur, total
				break
			}
		}
	}

	next := strconv.Itoa(pageIndex + 1)
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if m := pageParamRe.FindStringSubmatch(href); m != nil && m[1] == next {
			h.NextLink = true
			return false
		}
		inPager := a.ParentsFiltered(`nav, [class*="pagination"], [data-testid*="pagination"]`).Length() > 0
		if inPager && strings.TrimSpace(a.Text()) == next {
			h.NextLink = true
			return false
		}
		return true
	})

	for _, st := range containerStrategies {
		if !st.Generic && doc.Find(st.Selector).Length() > 0 {
			h.HasContainer = true
			break
		}
	}
	return h
}

// HasNextPage applies the probe rules in order: page-count text is
// authoritative, then an explicit link to the next page number, then the
// page-1 container heuristic. The second value names the rule that decided.
func HasNextPage(h PageHints, pageIndex int) (bool, string) {
	if h.HasPageText {
		return h.Current < h.Total, "page_text"
	}
	if h.NextLink {
		return true, "next_link"
	}
	return pageIndex == 1 && h.HasContainer, "heuristic"
}

// PageURL returns start with its page query parameter set to n. Page 1 is
// the start URL unchanged.
func PageURL(start string, n int) (string, error) {
	if n <= 1 {
		return start, nil
	}
	u, err := url.Parse(start)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
