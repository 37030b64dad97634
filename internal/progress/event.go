// Package progress defines the event structures emitted by the screenshot
// orchestrator while a batch drains.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart  Stage = "BATCH_START"
	StageCaptureDone Stage = "CAPTURE_DONE"
	StageBatchDone   Stage = "BATCH_DONE"
)

// Result classifies the outcome of one capture.
type Result string

// Capture results reported per job.
const (
	ResultOK     Result = "ok"
	ResultFailed Result = "failed"
)

// Event captures a single milestone of batch progress.
type Event struct {
	// BatchID uniquely identifies a drain cycle using the 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Route is the page route for capture events.
	Route string
	// Result classifies capture outcome; also set on BATCH_DONE to the
	// overall result.
	Result Result
	// Dur is the capture (or whole-batch) wall time.
	Dur time.Duration
	// Percent is the cumulative completion percentage after this event.
	Percent int
	// Total and Failed count queue size and failures so far.
	Total  int
	Failed int
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageCaptureDone:
		if e.Route == "" {
			return errors.New("capture done requires route")
		}
		if e.Result == "" {
			return errors.New("capture done requires result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
