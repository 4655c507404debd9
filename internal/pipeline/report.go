package pipeline

import "github.com/JakeFAU/press-digest/internal/digest"

// IngestReport summarizes one ingestion stage.
type IngestReport struct {
	// NoCandidates is set when discovery returned nothing; it is not an error.
	NoCandidates bool `json:"no_candidates"`
	Candidates   int  `json:"candidates"`
	New          int  `json:"new"`
	Scraped      int  `json:"scraped"`
	// Skipped counts locators another run inserted between dedupe and persist.
	Skipped       int                           `json:"skipped"`
	Errors        int                           `json:"errors"`
	FetchFailures map[digest.FetchErrorCode]int `json:"fetch_failures,omitempty"`
	// SuccessRate is Scraped/New as a percentage; nil when New is zero.
	SuccessRate   *float64 `json:"success_rate"`
	TotalInStore  int64    `json:"total_in_store"`
	RecentInStore int64    `json:"recent_in_store"`
}

// EnrichStatus tells callers why an enrichment stage ended.
type EnrichStatus string

// Enrichment outcomes.
const (
	StatusCompleted          EnrichStatus = "completed"
	StatusNothingToDo        EnrichStatus = "nothing_to_do"
	StatusBackendUnavailable EnrichStatus = "backend_unavailable"
)

// EnrichReport summarizes one enrichment stage.
type EnrichReport struct {
	Status       EnrichStatus `json:"status"`
	Unsummarized int          `json:"unsummarized"`
	Processed    int          `json:"processed"`
	Summarized   int          `json:"summarized"`
	Degraded     int          `json:"degraded"`
	Errors       int          `json:"errors"`
	// SuccessRate is Summarized/Unsummarized as a percentage; nil when nothing ran.
	SuccessRate    *float64 `json:"success_rate"`
	TotalSummaries int64    `json:"total_summaries"`
	Remaining      int64    `json:"remaining"`
}

// percentage returns part/whole*100 rounded to one decimal, or nil when whole is zero.
func percentage(part, whole int) *float64 {
	if whole <= 0 {
		return nil
	}
	v := digest.Round(float64(part)/float64(whole)*100, 1)
	return &v
}
