package services

import (
	"testing"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

func newTestLogger() *utils.Logger { return utils.NewNopLogger() }

func TestPriceValue(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"5,000₪", 5000, true},
		{"₪ 7,000", 7000, true},
		{"4500", 4500, true},
		{models.PriceNotFound, 0, false},
		{"", 0, false},
		{"לא צוין מחיר", 0, false},
	}

	for _, tt := range tests {
		got, ok := PriceValue(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PriceValue(%q) = (%.0f, %v); want (%.0f, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormaliseText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  דירה   בתל\nאביב ", "דירה בתל אביב"},
		{"\t3 חדרים\t", "3 חדרים"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormaliseText(tt.raw); got != tt.want {
			t.Errorf("NormaliseText(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCleanerDeduplicatesExternalID(t *testing.T) {
	c := NewCleaner(newTestLogger())

	a := models.NewListingRecord()
	a.ExternalID = "abc123"
	a.Title = "  first  "
	b := models.NewListingRecord()
	b.ExternalID = "abc123"
	b.Title = "second"
	d := models.NewListingRecord()
	d.ExternalID = "gen-1-0"

	cleaned := c.Clean([]models.ListingRecord{a, b, d})
	if len(cleaned) != 2 {
		t.Fatalf("expected 2 records after deduplication, got %d", len(cleaned))
	}
	if cleaned[0].Title != "first" {
		t.Errorf("Title: got %q, want %q", cleaned[0].Title, "first")
	}
}

func TestCleanerKeepsSentinels(t *testing.T) {
	c := NewCleaner(newTestLogger())
	r := models.NewListingRecord()
	r.ExternalID = "x1"

	cleaned := c.Clean([]models.ListingRecord{r})
	if cleaned[0].PriceText != models.PriceNotFound {
		t.Errorf("PriceText: got %q, want sentinel", cleaned[0].PriceText)
	}
}
