package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"classifieds-scraper/models"
	"classifieds-scraper/utils"
)

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// Generate summarises the records of a single run. Prices are parsed the same
// way storage statistics parse them.
func (s *InsightService) Generate(records []models.ListingRecord) *models.RunSummary {
	summary := &models.RunSummary{
		RecordsByLocation: make(map[string]int),
	}

	if len(records) == 0 {
		return summary
	}

	summary.TotalRecords = len(records)

	var total float64
	priced := 0
	for i := range records {
		r := &records[i]
		if r.Eligible() {
			summary.EligibleRecords++
		}
		if r.DetailLink != "" {
			summary.WithLink++
		}
		if models.IsSyntheticID(r.ExternalID) {
			summary.SyntheticIDs++
		}
		if r.LocationText != "" && r.LocationText != models.LocationNotFound {
			summary.RecordsByLocation[r.LocationText]++
		}

		price, ok := PriceValue(r.PriceText)
		if !ok || r.PriceText == models.PriceNotFound {
			continue
		}
		summary.WithPrice++
		total += price
		if priced == 0 || price < summary.MinPrice {
			summary.MinPrice = price
		}
		if priced == 0 || price > summary.MaxPrice {
			summary.MaxPrice = price
			summary.MostExpensive = r
		}
		priced++
	}

	if priced > 0 {
		summary.AveragePrice = round2(total / float64(priced))
	}
	return summary
}

// PrintRun writes the pipeline outcome and the per-run summary.
func (s *InsightService) PrintRun(res *models.RunResult, sum *models.RunSummary) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏠 LISTINGS SCRAPE RUN %s\033[0m\n", res.RunID)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Outcome\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	status := "\033[1;32mOK\033[0m"
	if !res.Success {
		status = "\033[1;31mPARTIAL\033[0m"
	}
	fmt.Fprintf(w, "  Status         : %s\n", status)
	fmt.Fprintf(w, "  Pages visited  : \033[1m%d\033[0m (stop: %s)\n", res.PagesVisited, res.StopReason)
	fmt.Fprintf(w, "  Records        : \033[1m%d\033[0m\n", res.TotalCount)
	if res.ErrorReason != "" {
		fmt.Fprintf(w, "  Error          : %s\n", res.ErrorReason)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Record Quality\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  With link      : %d\n", sum.WithLink)
	fmt.Fprintf(w, "  With price     : %d\n", sum.WithPrice)
	fmt.Fprintf(w, "  Eligible       : %d\n", sum.EligibleRecords)
	fmt.Fprintf(w, "  Synthetic ids  : %d\n", sum.SyntheticIDs)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics (this run)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if sum.WithPrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m%.2f ₪\033[0m\n", sum.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m%.0f ₪\033[0m\n", sum.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m%.0f ₪\033[0m\n", sum.MaxPrice)
		if sum.MostExpensive != nil {
			fmt.Fprintf(w, "  Most expensive: %s\n", truncate(sum.MostExpensive.Title, 40))
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if len(sum.RecordsByLocation) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Locations (this run)\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, lc := range TopLocations(sum.RecordsByLocation, 5) {
			fmt.Fprintf(w, "  %-30s (%d)\n", truncate(lc.Location, 28), lc.Count)
		}
		fmt.Fprintln(w)
	}
}

// PrintStore writes the outcome of the save batch, the retention purge and the
// aggregate statistics over everything stored.
func (s *InsightService) PrintStore(saved *models.SaveResult, purged int64, st *models.Statistics) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	if saved != nil {
		fmt.Fprintf(w, "\033[1;33m  Storage\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Inserted       : \033[1;32m%d\033[0m\n", saved.Inserted)
		fmt.Fprintf(w, "  Updated        : %d\n", saved.Updated)
		fmt.Fprintf(w, "  Skipped        : %d (no link: %d, no price: %d)\n",
			saved.Skipped, saved.SkippedNoLink, saved.SkippedNoPrice)
		fmt.Fprintf(w, "  Purged (old)   : %d\n", purged)
		fmt.Fprintln(w)
	}

	if st != nil {
		fmt.Fprintf(w, "\033[1;33m  Stored Listings\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Total          : \033[1m%d\033[0m\n", st.Total)
		fmt.Fprintf(w, "  New today      : \033[1m%d\033[0m\n", st.NewToday)
		if st.HasAvgPrice {
			fmt.Fprintf(w, "  Average price  : \033[1;32m%.2f ₪\033[0m\n", st.AvgPrice)
		} else {
			fmt.Fprintf(w, "  Average price  : n/a\n")
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "\033[1;33m  Top Locations\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		if len(st.TopLocations) == 0 {
			fmt.Fprintf(w, "  No location data\n")
		}
		for _, lc := range st.TopLocations {
			bar := strings.Repeat("█", min(lc.Count, 40))
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(lc.Location, 28), bar, lc.Count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// TopLocations returns the n most frequent locations in a summary, ties broken
// alphabetically.
func TopLocations(byLocation map[string]int, n int) []models.LocationCount {
	locs := make([]models.LocationCount, 0, len(byLocation))
	for loc, cnt := range byLocation {
		locs = append(locs, models.LocationCount{Location: loc, Count: cnt})
	}
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Count != locs[j].Count {
			return locs[i].Count > locs[j].Count
		}
		return locs[i].Location < locs[j].Location
	})
	if len(locs) > n {
		locs = locs[:n]
	}
	return locs
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
