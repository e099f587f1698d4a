package services

import (
	"strconv"
	"strings"
	"unicode"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

// Cleaner normalises scraped records before they are handed to storage.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean collapses whitespace in every text field and drops repeated external
// ids, keeping the first occurrence. Listings promoted on several pages show
// up more than once in a run.
func (c *Cleaner) Clean(records []models.ListingRecord) []models.ListingRecord {
	seen := utils.NewSeenSet()
	result := make([]models.ListingRecord, 0, len(records))

	for _, r := range records {
		if r.ExternalID != "" && !seen.Add(r.ExternalID) {
			c.logger.Debug("[cleaner] Duplicate external id skipped: %s", r.ExternalID)
			continue
		}

		r.Title = NormaliseText(r.Title)
		r.PriceText = NormaliseText(r.PriceText)
		r.LocationText = NormaliseText(r.LocationText)
		r.RoomsText = NormaliseText(r.RoomsText)
		r.FloorText = NormaliseText(r.FloorText)
		r.Description = NormaliseText(r.Description)
		r.ContactInfo = NormaliseText(r.ContactInfo)
		r.DetailLink = strings.TrimSpace(r.DetailLink)
		r.ImageURL = strings.TrimSpace(r.ImageURL)

		result = append(result, r)
	}

	if dropped := len(records) - len(result); dropped > 0 {
		c.logger.Info("[cleaner] Cleaned %d → %d records (dropped %d duplicates)",
			len(records), len(result), dropped)
	}
	return result
}

// PriceValue strips every non-digit from a price string and parses the rest.
// "5,000 ₪" → 5000. ok is false when no digit is present.
func PriceValue(raw string) (value float64, ok bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
