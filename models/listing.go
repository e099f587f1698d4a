package models

import (
	"fmt"
	"strings"
	"time"
)

// Sentinel values written when a field could not be extracted. They are
// distinct from the empty string so "attempted but not found" stays visible.
const (
	TitleNotFound       = "Title not found"
	PriceNotFound       = "Price not found"
	LocationNotFound    = "Location not found"
	RoomsNotFound       = "Rooms not found"
	FloorNotFound       = "Floor not found"
	DescriptionNotFound = "Description not found"
	ContactNotFound     = "Contact not found"
)

// ListingRecord is one observed property listing.
type ListingRecord struct {
	ExternalID   string `json:"external_id"`
	Title        string `json:"title"`
	PriceText    string `json:"price_text"`
	LocationText string `json:"location"`
	RoomsText    string `json:"rooms"`
	FloorText    string `json:"floor"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	DetailLink   string `json:"detail_link"`
	ContactInfo  string `json:"contact_info"`

	// Storage-owned fields.
	MessageSent   bool      `json:"message_sent"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// NewListingRecord returns a record with every text field set to its sentinel.
func NewListingRecord() ListingRecord {
	return ListingRecord{
		Title:        TitleNotFound,
		PriceText:    PriceNotFound,
		LocationText: LocationNotFound,
		RoomsText:    RoomsNotFound,
		FloorText:    FloorNotFound,
		Description:  DescriptionNotFound,
		ContactInfo:  ContactNotFound,
	}
}

// SyntheticIDPrefix marks ids generated when no detail link could be parsed.
const SyntheticIDPrefix = "gen-"

// SyntheticID builds a fallback id from the extraction time and the item's
// position on the page. Such records are new on every run.
func SyntheticID(at time.Time, index int) string {
	return fmt.Sprintf("%s%d-%d", SyntheticIDPrefix, at.UnixMilli(), index)
}

// IsSyntheticID reports whether id was produced by SyntheticID.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}

// SkipReason explains why a record was not persisted.
type SkipReason string

const (
	SkipNone    SkipReason = ""
	SkipNoLink  SkipReason = "no_link"
	SkipNoPrice SkipReason = "no_price"
)

// SkipReason reports why r is not eligible for persistence. A missing link
// takes precedence over a missing price.
func (r ListingRecord) SkipReason() SkipReason {
	if r.DetailLink == "" {
		return SkipNoLink
	}
	if r.PriceText == PriceNotFound {
		return SkipNoPrice
	}
	return SkipNone
}

// Eligible reports whether r may be persisted.
func (r ListingRecord) Eligible() bool {
	return r.SkipReason() == SkipNone
}

// PageResult is the outcome of fetching and extracting a single page.
type PageResult struct {
	Records     []ListingRecord
	OK          bool
	ErrorReason string
}

// StopReason records why pagination ended.
type StopReason string

const (
	StopEmpty    StopReason = "empty"
	StopLastPage StopReason = "last_page"
	StopPageCap  StopReason = "page_cap"
	StopBlocked  StopReason = "blocked"
	StopNetwork  StopReason = "network"
	StopCooldown StopReason = "cooldown"
	StopInvalid  StopReason = "invalid_input"
)

// RunResult is what a pipeline run hands back to its caller. Records are
// returned even when Success is false.
type RunResult struct {
	RunID        string
	Success      bool
	Records      []ListingRecord
	ErrorReason  string
	TotalCount   int
	PagesVisited int
	StopReason   StopReason
}

// SaveResult summarises one persistence batch.
type SaveResult struct {
	Inserted       int
	Updated        int
	Skipped        int
	SkippedNoLink  int
	SkippedNoPrice int
	InsertedIDs    []string
}

// LocationCount is one row of the top-locations table.
type LocationCount struct {
	Location string
	Count    int
}

// Statistics holds aggregate figures over the stored listings.
type Statistics struct {
	Total        int
	NewToday     int
	AvgPrice     float64
	HasAvgPrice  bool
	TopLocations []LocationCount
}

// RunSummary holds the computed figures over one run's scraped records.
type RunSummary struct {
	TotalRecords      int
	EligibleRecords   int
	WithLink          int
	WithPrice         int
	SyntheticIDs      int
	AveragePrice      float64
	MinPrice          float64
	MaxPrice          float64
	MostExpensive     *ListingRecord
	RecordsByLocation map[string]int
}
