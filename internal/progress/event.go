// Package progress defines the events emitted while a pipeline run executes.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageIngestDone  Stage = "INGEST_DONE"
	StageEnrichBatch Stage = "ENRICH_BATCH"
	StageEnrichDone  Stage = "ENRICH_DONE"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Event captures a single milestone of a pipeline run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Trigger names what started the run (schedule, api, cli).
	Trigger string
	// Processed and Total describe enrichment batch progress.
	Processed int
	Total     int
	// Percent is Processed/Total rounded to one decimal place.
	Percent float64
	// Dur is the elapsed time of the stage or run.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
	// IngestReport and EnrichReport hold JSON reports on terminal events.
	IngestReport json.RawMessage
	EnrichReport json.RawMessage
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Trigger == "" {
			return errors.New("run start requires trigger")
		}
	case StageEnrichBatch:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %v out of range", e.Percent)
		}
	case StageIngestDone, StageEnrichDone, StageRunDone, StageRunError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
