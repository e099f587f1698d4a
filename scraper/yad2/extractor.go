package yad2

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"classifieds-scraper/models"
	"classifieds-scraper/services"
	"classifieds-scraper/utils"
)

// minItemText is the rune length above which an item is kept even when no
// price, room count or area was found in it.
const minItemText = 20

// Extractor turns a rendered results page into listing records.
type Extractor struct {
	base   *url.URL
	logger *utils.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor resolving relative links against baseURL.
func NewExtractor(baseURL string, logger *utils.Logger) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, models.NewConfigurationError(fmt.Sprintf("invalid base url %q", baseURL))
	}
	return &Extractor{base: base, logger: logger, now: time.Now}, nil
}

// Extract never fails: a DOM it cannot parse or navigate yields no records.
func (e *Extractor) Extract(dom string) []models.ListingRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		e.logger.Warn("[extractor] Unparsable DOM: %v", err)
		return nil
	}
	doc.Find("script, style, noscript, template").Remove()

	containers, cst, ok := firstMatch(doc.Selection, containerStrategies)
	if !ok {
		e.logger.Debug("[extractor] No result container matched")
		return nil
	}
	items, ist, ok := firstMatch(containers, itemStrategies)
	if !ok {
		e.logger.Debug("[extractor] Container %q matched but no items", cst.Name)
		return nil
	}
	e.logger.Debug("[extractor] Container %q, items %q: %d candidates", cst.Name, ist.Name, items.Length())

	extractedAt := e.now()
	seenLinks := utils.NewSeenSet()
	records := make([]models.ListingRecord, 0, items.Length())
	dropped := 0

	items.Each(func(i int, item *goquery.Selection) {
		rec, keep := e.extractItem(item, i, extractedAt)
		if !keep {
			dropped++
			return
		}
		if rec.DetailLink != "" && !seenLinks.Add(rec.DetailLink) {
			dropped++
			return
		}
		records = append(records, rec)
	})

	if dropped > 0 {
		e.logger.Debug("[extractor] Dropped %d non-listing or repeated nodes", dropped)
	}
	return records
}

// extractItem fills one record field by field, leaving the sentinel in place
// wherever every rule for a field came back empty. keep is false when the
// node fails the quality gate.
func (e *Extractor) extractItem(item *goquery.Selection, index int, at time.Time) (models.ListingRecord, bool) {
	text := services.NormaliseText(item.Text())
	rec := models.NewListingRecord()

	price := firstNonEmpty(item, text, priceRules)
	rooms := firstNonEmpty(item, text, roomsRules)
	area := firstNonEmpty(item, text, areaRules)

	if utf8.RuneCountInString(text) <= minItemText && price == "" && rooms == "" && area == "" {
		return rec, false
	}

	if v := firstNonEmpty(item, text, titleRules); v != "" {
		rec.Title = services.NormaliseText(v)
	}
	if price != "" {
		rec.PriceText = services.NormaliseText(price)
	}
	if v := firstNonEmpty(item, text, locationRules); v != "" {
		rec.LocationText = services.NormaliseText(v)
	}
	if rooms != "" {
		rec.RoomsText = rooms
	}
	if v := firstNonEmpty(item, text, floorRules); v != "" {
		rec.FloorText = services.NormaliseText(v)
	}
	if v := firstNonEmpty(item, text, descriptionRules); v != "" {
		rec.Description = services.NormaliseText(v)
	}
	if v := firstNonEmpty(item, text, contactRules); v != "" {
		rec.ContactInfo = services.NormaliseText(v)
	}
	rec.ImageURL = resolve(e.base, firstNonEmpty(item, text, imageRules))
	rec.DetailLink = resolve(e.base, firstNonEmpty(item, text, linkRules))

	rec.ExternalID = ExternalID(rec.DetailLink)
	if rec.ExternalID == "" {
		rec.ExternalID = models.SyntheticID(at, index)
	}
	return rec, true
}

// ExternalID pulls the listing id out of a detail link, or returns "".
func ExternalID(link string) string {
	m := externalIDRe.FindStringSubmatch(link)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
