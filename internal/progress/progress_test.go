package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, batch...)
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func validEvent(stage Stage) Event {
	evt := Event{
		BatchID: UUIDToBytes(uuid.New()),
		TS:      time.Now().UTC(),
		Stage:   stage,
	}
	if stage == StageCaptureDone {
		evt.Route = "/a"
		evt.Result = ResultOK
	}
	return evt
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validEvent(StageBatchStart).Validate())
	require.NoError(t, validEvent(StageCaptureDone).Validate())

	evt := validEvent(StageCaptureDone)
	evt.Route = ""
	assert.Error(t, evt.Validate())

	evt = validEvent(StageCaptureDone)
	evt.Result = ""
	assert.Error(t, evt.Validate())

	evt = validEvent(StageBatchStart)
	evt.BatchID = [16]byte{}
	assert.Error(t, evt.Validate())

	evt = validEvent(StageBatchStart)
	evt.Stage = "BOGUS"
	assert.Error(t, evt.Validate())
}

func TestReporterFansOut(t *testing.T) {
	t.Parallel()

	a := &recordingSink{}
	b := &recordingSink{}
	r := NewReporter(nil, a, b)

	r.Emit(validEvent(StageBatchStart))
	r.Emit(validEvent(StageCaptureDone))

	assert.Len(t, a.events, 2)
	assert.Len(t, b.events, 2)
}

func TestReporterDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	r := NewReporter(nil, sink)
	r.Emit(Event{Stage: StageBatchStart})
	assert.Empty(t, sink.events)
}

func TestReporterSurvivesSinkFailure(t *testing.T) {
	t.Parallel()

	broken := &recordingSink{fail: true}
	healthy := &recordingSink{}
	r := NewReporter(nil, broken, healthy)

	r.Emit(validEvent(StageCaptureDone))
	assert.Len(t, healthy.events, 1, "a failing sink must not block others")
}

func TestReporterClose(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	r := NewReporter(nil, sink)
	require.NoError(t, r.Close(context.Background()))
	assert.True(t, sink.closed)
}
