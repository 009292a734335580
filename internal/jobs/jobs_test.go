package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pulse/internal/model"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) CreateJob(ctx context.Context, job *model.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockRecorder) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func waitAll(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
}

func TestRegistry_SubmitReturnsFreshIDs(t *testing.T) {
	r := NewRegistry(Options{Workers: 2})
	release := make(chan struct{})

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := r.Submit(model.JobKindTrain, "dc1", nil, func(ctx context.Context, emit Emit) error {
			<-release
			return nil
		})
		assert.False(t, seen[id])
		seen[id] = true
		st := r.Status(id)
		assert.Contains(t, []string{"queued", "running"}, st)
	}
	close(release)
	waitAll(t, r)
}

func TestRegistry_StatusLines(t *testing.T) {
	r := NewRegistry(Options{})

	ok := r.Submit(model.JobKindTrain, "a", nil, func(context.Context, Emit) error { return nil })
	bad := r.Submit(model.JobKindTrain, "b", nil, func(context.Context, Emit) error { return errors.New("dataset not found") })
	boom := r.Submit(model.JobKindAutoML, "c", nil, func(context.Context, Emit) error { panic("kaboom") })
	waitAll(t, r)

	assert.Equal(t, "completed", r.Status(ok))
	assert.Equal(t, "failed: dataset not found", r.Status(bad))
	assert.Contains(t, r.Status(boom), "failed: job panicked")
	assert.Equal(t, "unknown", r.Status("nope"))

	assert.Len(t, r.List(), 3)
}

func TestRegistry_WorkerLimit(t *testing.T) {
	r := NewRegistry(Options{Workers: 1})
	started := make(chan struct{})
	release := make(chan struct{})

	first := r.Submit(model.JobKindTrain, "a", nil, func(context.Context, Emit) error {
		close(started)
		<-release
		return nil
	})
	<-started
	second := r.Submit(model.JobKindTrain, "b", nil, func(context.Context, Emit) error { return nil })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "running", r.Status(first))
	assert.Equal(t, "queued", r.Status(second))

	close(release)
	waitAll(t, r)
	assert.Equal(t, "completed", r.Status(second))
}

func TestRegistry_ProgressDeliveredInOrder(t *testing.T) {
	r := NewRegistry(Options{})
	gate := make(chan struct{})

	id := r.Submit(model.JobKindTrain, "a", nil, func(_ context.Context, emit Emit) error {
		<-gate
		for e := 1; e <= 5; e++ {
			emit(model.ProgressEvent{Type: model.EventEpoch, Epoch: e, TotalEpochs: 5})
		}
		return nil
	})
	sub := r.Subscribe(id)
	close(gate)

	var got []model.ProgressEvent
	for ev := range sub.C {
		got = append(got, ev)
	}
	require.Len(t, got, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i+1, got[i].Epoch)
	}
	assert.Equal(t, model.EventStatus, got[5].Type)
	assert.Equal(t, "completed", got[5].Status)
	waitAll(t, r)
}

func TestRegistry_EventsWithoutListenerAreDropped(t *testing.T) {
	r := NewRegistry(Options{})
	emitted := make(chan struct{})
	release := make(chan struct{})

	id := r.Submit(model.JobKindTrain, "a", nil, func(_ context.Context, emit Emit) error {
		emit(model.ProgressEvent{Type: model.EventEpoch, Epoch: 1})
		close(emitted)
		<-release
		emit(model.ProgressEvent{Type: model.EventEpoch, Epoch: 2})
		return nil
	})
	<-emitted
	sub := r.Subscribe(id)
	close(release)

	var epochs []int
	for ev := range sub.C {
		if ev.Type == model.EventEpoch {
			epochs = append(epochs, ev.Epoch)
		}
	}
	assert.Equal(t, []int{2}, epochs, "late listener sees no history")
	waitAll(t, r)
}

func TestBroker_ReplaceClosesPrevious(t *testing.T) {
	b := NewBroker(4)

	first := b.Subscribe("job")
	second := b.Subscribe("job")

	_, open := <-first.C
	assert.False(t, open)

	b.Unsubscribe(first)
	assert.True(t, b.Listening("job"), "stale unsubscribe keeps the current listener")

	assert.True(t, b.Publish("job", model.ProgressEvent{Type: model.EventEpoch, Epoch: 1}))
	ev := <-second.C
	assert.Equal(t, 1, ev.Epoch)

	b.Unsubscribe(second)
	assert.False(t, b.Listening("job"))
	assert.False(t, b.Publish("job", model.ProgressEvent{Type: model.EventEpoch}))
}

func TestBroker_FullBufferDrops(t *testing.T) {
	b := NewBroker(1)
	sub := b.Subscribe("job")

	assert.True(t, b.Publish("job", model.ProgressEvent{Epoch: 1}))
	assert.False(t, b.Publish("job", model.ProgressEvent{Epoch: 2}))
	assert.Equal(t, 1, (<-sub.C).Epoch)
}

func TestBroker_StatusClosesSubscription(t *testing.T) {
	b := NewBroker(4)
	sub := b.Subscribe("job")

	b.Publish("job", model.ProgressEvent{Type: model.EventStatus, Status: "completed"})
	ev, open := <-sub.C
	assert.True(t, open)
	assert.Equal(t, "completed", ev.Status)
	_, open = <-sub.C
	assert.False(t, open)
	assert.False(t, b.Listening("job"))
}

func TestRegistry_EvictsExpiredTerminalJobs(t *testing.T) {
	r := NewRegistry(Options{Retention: time.Hour})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	id := r.Submit(model.JobKindTrain, "a", nil, func(context.Context, Emit) error { return nil })
	waitAll(t, r)
	assert.Equal(t, "completed", r.Status(id))

	mu.Lock()
	clock = clock.Add(2 * time.Hour)
	mu.Unlock()
	assert.Equal(t, "unknown", r.Status(id))
}

func TestRegistry_RecordsTransitions(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("CreateJob", mock.Anything, mock.MatchedBy(func(j *model.Job) bool {
		return j.Status == model.JobStatusQueued && j.ModelName == "dc1"
	})).Return(nil).Once()
	rec.On("UpdateJobStatus", mock.Anything, mock.Anything, model.JobStatusRunning, "").Return(nil).Once()
	rec.On("UpdateJobStatus", mock.Anything, mock.Anything, model.JobStatusFailed, "bad data").
		Return(errors.New("db down")).Once()

	r := NewRegistry(Options{Recorder: rec})
	r.Submit(model.JobKindTrain, "dc1", model.TrainParams{ModelName: "dc1"}, func(context.Context, Emit) error {
		return errors.New("bad data")
	})
	waitAll(t, r)

	rec.AssertExpectations(t)
}
