package yad2

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one selector in an ordered fallback list. Generic strategies
// trade precision for resilience to markup changes.
type Strategy struct {
	Name     string
	Selector string
	Generic  bool
}

// Result containers, most specific first.
var containerStrategies = []Strategy{
	{Name: "feed-list-testid", Selector: `[data-testid="feed-list"]`},
	{Name: "feed-list-class", Selector: `.feed_list, .feed-list`},
	{Name: "feed-list-partial", Selector: `ul[class*="feed-list"], div[class*="feed-list"]`},
	{Name: "feed-generic", Selector: `[class*="feed"]`, Generic: true},
	{Name: "main", Selector: `main`, Generic: true},
	{Name: "body", Selector: `body`, Generic: true},
}

// Listing items inside a container, most specific first.
var itemStrategies = []Strategy{
	{Name: "item-basic-testid", Selector: `[data-testid="item-basic"]`},
	{Name: "feeditem", Selector: `.feeditem, .feed_item`},
	{Name: "feed-item-partial", Selector: `[class*="feed-item"], [class*="feedItem"]`},
	{Name: "item-generic", Selector: `[class*="item"]`, Generic: true},
	{Name: "article", Selector: `article`, Generic: true},
	{Name: "li", Selector: `li`, Generic: true},
}

// firstMatch evaluates strategies in order against root and returns the
// matches of the first one that finds anything. Nested matches are dropped so
// that a generic selector yields each listing once.
func firstMatch(root *goquery.Selection, strategies []Strategy) (*goquery.Selection, Strategy, bool) {
	for _, st := range strategies {
		sel := root.Find(st.Selector)
		if sel.Length() == 0 {
			continue
		}
		outer := sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered(st.Selector).Length() == 0
		})
		if outer.Length() > 0 {
			return outer, st, true
		}
	}
	return nil, Strategy{}, false
}

var (
	priceRe      = regexp.MustCompile(`[\d,]+\s*₪|₪\s*[\d,]+`)
	roomsRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*חדרים`)
	floorRe      = regexp.MustCompile(`קומה\s*([^\s,•|]+)`)
	areaRe       = regexp.MustCompile(`(\d+)\s*מ["״']?ר`)
	externalIDRe = regexp.MustCompile(`/item/([A-Za-z0-9]+)`)
	hasDigitRe   = regexp.MustCompile(`\d`)
)

// fieldRule extracts one field from an item; an empty result means "try the next rule".
type fieldRule func(item *goquery.Selection, text string) string

// firstNonEmpty runs rules in order and returns the first non-empty value.
func firstNonEmpty(item *goquery.Selection, text string, rules []fieldRule) string {
	for _, rule := range rules {
		if v := strings.TrimSpace(rule(item, text)); v != "" {
			return v
		}
	}
	return ""
}

// textOf returns the text of the first element matching any of sels.
func textOf(sels ...string) fieldRule {
	return func(item *goquery.Selection, _ string) string {
		for _, sel := range sels {
			if t := strings.TrimSpace(item.Find(sel).First().Text()); t != "" {
				return t
			}
		}
		return ""
	}
}

// nthTextOf returns the text of the n-th (zero-based) element matching sel.
func nthTextOf(sel string, n int) fieldRule {
	return func(item *goquery.Selection, _ string) string {
		return strings.TrimSpace(item.Find(sel).Eq(n).Text())
	}
}

// attrOf returns attr of the first element matching sel. Inline data URIs are
// placeholders and are ignored.
func attrOf(sel, attr string) fieldRule {
	return func(item *goquery.Selection, _ string) string {
		var out string
		item.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr(attr)
			v = strings.TrimSpace(v)
			if !ok || v == "" || strings.HasPrefix(v, "data:") {
				return true
			}
			out = v
			return false
		})
		return out
	}
}

// selfAttr reads attr from the item element itself, for items that are anchors.
func selfAttr(attr string) fieldRule {
	return func(item *goquery.Selection, _ string) string {
		v, _ := item.Attr(attr)
		return v
	}
}

// matchOf returns capture group g of re over the item's text.
func matchOf(re *regexp.Regexp, g int) fieldRule {
	return func(_ *goquery.Selection, text string) string {
		m := re.FindStringSubmatch(text)
		if len(m) <= g {
			return ""
		}
		return m[g]
	}
}

// withDigit keeps a rule's result only when it contains a digit.
func withDigit(rule fieldRule) fieldRule {
	return func(item *goquery.Selection, text string) string {
		v := rule(item, text)
		if !hasDigitRe.MatchString(v) {
			return ""
		}
		return v
	}
}

var (
	titleRules = []fieldRule{
		textOf(`[data-testid="item-title"]`, `[class*="heading"] [class*="title"]`, `.title`, `h2`, `h3`),
	}
	priceRules = []fieldRule{
		withDigit(textOf(`[data-testid="price"]`, `[class*="price"]`, `.price`)),
		matchOf(priceRe, 0),
	}
	locationRules = []fieldRule{
		textOf(`[class*="heading"] [class*="subtitle"]`, `[class*="heading"] > span:nth-child(2)`, `.subtitle`, `[class*="address"]`),
	}
	roomsRules = []fieldRule{
		textOf(`[data-testid="rooms"]`),
		matchOf(roomsRe, 1),
	}
	// The first info line carries the property type; the floor sits on the second.
	floorRules = []fieldRule{
		nthTextOf(`[class*="item-info-line"]`, 1),
		matchOf(floorRe, 1),
	}
	areaRules = []fieldRule{
		matchOf(areaRe, 1),
	}
	descriptionRules = []fieldRule{
		textOf(`[class*="description"]`, `[class*="item-info-line"]`, `p`),
	}
	imageRules = []fieldRule{
		attrOf(`img`, "src"),
		attrOf(`img`, "data-src"),
	}
	linkRules = []fieldRule{
		attrOf(`a[href*="/item/"]`, "href"),
		selfAttr("href"),
		attrOf(`a[href]`, "href"),
	}
	contactRules = []fieldRule{
		textOf(`[class*="phone"]`, `[class*="contact"]`),
		func(item *goquery.Selection, text string) string {
			return strings.TrimPrefix(attrOf(`a[href^="tel:"]`, "href")(item, text), "tel:")
		},
	}
)

// resolve makes ref absolute against base. Unparsable refs come back empty.
func resolve(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
