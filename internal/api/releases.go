package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/digest"
)

const (
	defaultReleasesLimit = 20
	maxReleasesLimit     = 100
	storeTimeout         = 5 * time.Second

	unknownDate        = "Unknown"
	summaryUnavailable = "Summary not available"
	pointSeparator     = " • "
	dateLayout         = "2006-01-02"
)

type releaseDTO struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

type releasesResponse struct {
	Releases []releaseDTO `json:"releases"`
	Total    int64        `json:"total"`
	Limit    int          `json:"limit"`
}

type statsResponse struct {
	TotalReleases     int64      `json:"total_releases"`
	TotalSummarized   int64      `json:"total_summarized"`
	OldestRelease     *time.Time `json:"oldest_release"`
	NewestRelease     *time.Time `json:"newest_release"`
	LastScraped       *time.Time `json:"last_scraped"`
	SummaryPercentage float64    `json:"summary_percentage"`
}

// listReleases handles GET /releases?limit=N.
func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	limit := defaultReleasesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxReleasesLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = v
	}
	if s.content == nil {
		writeError(w, http.StatusServiceUnavailable, "content store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	items, err := s.content.ListRecent(ctx, limit)
	if err != nil {
		s.storeFailure(w, "list releases", err)
		return
	}
	total, err := s.content.CountAll(ctx)
	if err != nil {
		s.storeFailure(w, "count releases", err)
		return
	}
	out := releasesResponse{Releases: make([]releaseDTO, 0, len(items)), Total: total, Limit: limit}
	for _, it := range items {
		out.Releases = append(out.Releases, toReleaseDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

// stats handles GET /stats.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		writeError(w, http.StatusServiceUnavailable, "content store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	st, err := s.content.Stats(ctx)
	if err != nil {
		s.storeFailure(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalReleases:     st.TotalItems,
		TotalSummarized:   st.TotalSummarized,
		OldestRelease:     st.OldestPublished,
		NewestRelease:     st.NewestPublished,
		LastScraped:       st.LastFetched,
		SummaryPercentage: st.SummarizedPercentage(),
	})
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Error("content store query failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Database error: "+err.Error())
}

func toReleaseDTO(it digest.RecentItem) releaseDTO {
	dto := releaseDTO{
		Title:   it.Title,
		Date:    unknownDate,
		URL:     it.Locator,
		Summary: it.SummaryText,
	}
	if strings.TrimSpace(dto.Title) == "" {
		dto.Title = digest.DefaultTitle
	}
	if it.PublishedAt != nil {
		dto.Date = it.PublishedAt.UTC().Format(dateLayout)
	}
	if strings.TrimSpace(dto.Summary) == "" {
		if len(it.KeyPoints) > 0 {
			dto.Summary = strings.Join(it.KeyPoints, pointSeparator)
		} else {
			dto.Summary = summaryUnavailable
		}
	}
	return dto
}
