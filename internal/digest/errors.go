package digest

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable signals the store could not be reached. It aborts
	// the current stage and is never retried internally.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrBackendUnhealthy signals the enrichment backend failed its probe.
	ErrBackendUnhealthy = errors.New("enrichment backend unhealthy")
	// ErrInvalidLimit is returned when an ingestion limit is not positive.
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// FetchErrorCode classifies a fetch failure.
type FetchErrorCode string

// Fetch failure codes.
const (
	FetchNetwork  FetchErrorCode = "network"
	FetchStatus   FetchErrorCode = "status"
	FetchConfig   FetchErrorCode = "config"
	FetchCanceled FetchErrorCode = "canceled"
)

// FetchError is the typed failure variant of a FetchResult.
type FetchError struct {
	Locator    string
	Code       FetchErrorCode
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Code == FetchStatus:
		return fmt.Sprintf("fetch %s: status code: %d", e.Locator, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.Locator, e.Code, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.Locator, e.Code)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageUnavailable wraps err so that errors.Is(err, ErrStorageUnavailable) holds.
func StorageUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
