package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/campus-exams/exam-service/internal/models"
)

// fakeBackend records runtime calls and can be told to fail or block.
type fakeBackend struct {
	mu sync.Mutex

	persisted    []*models.StudentAnswer
	persistErr   error
	persistGate  chan struct{} // when set, persistAnswer blocks until closed
	persistCalls int

	finalized     [][]*models.StudentAnswer
	finalizeErr   error
	finalizeGate  chan struct{}
	finalizeCalls int
	lastReason    string

	frozen     int
	heartbeats int
}

func (b *fakeBackend) persistAnswer(_ context.Context, answer *models.StudentAnswer) error {
	b.mu.Lock()
	gate := b.persistGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.persistCalls++
	if b.persistErr != nil {
		return b.persistErr
	}
	copied := *answer
	b.persisted = append(b.persisted, &copied)
	return nil
}

func (b *fakeBackend) finalizeSubmission(_ context.Context, _ uint, reason string, answers []*models.StudentAnswer, _ time.Time) error {
	b.mu.Lock()
	gate := b.finalizeGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizeCalls++
	b.lastReason = reason
	if b.finalizeErr != nil {
		return b.finalizeErr
	}
	b.finalized = append(b.finalized, answers)
	return nil
}

func (b *fakeBackend) freezeExpired(_ context.Context, _ uint, _ error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen++
}

func (b *fakeBackend) recordHeartbeat(_ context.Context, _ uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats++
}

func (b *fakeBackend) finalizeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalizeCalls
}

func (b *fakeBackend) frozenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

func (b *fakeBackend) lastPersisted() *models.StudentAnswer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.persisted) == 0 {
		return nil
	}
	return b.persisted[len(b.persisted)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRuntime(t *testing.T, backend sessionBackend, start, end time.Time) *sessionRuntime {
	t.Helper()
	reg := &models.Registration{
		StudentID:     "student-1",
		PaperID:       7,
		Status:        models.RegistrationInProgress,
		ExamStartTime: &start,
		ExamEndTime:   &end,
	}
	reg.ID = 42
	return newSessionRuntime(reg, backend, testLogger(), runtimeConfig{
		TickInterval:      time.Second,
		HeartbeatInterval: time.Second,
		RetryInterval:     10 * time.Millisecond,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSessionRuntime_Remaining(t *testing.T) {
	start := time.Now()
	end := start.Add(10 * time.Minute)
	rt := testRuntime(t, &fakeBackend{}, start, end)

	t.Run("whole seconds left", func(t *testing.T) {
		got := rt.remaining(end.Add(-90 * time.Second))
		if got != 90 {
			t.Errorf("remaining = %d, want 90", got)
		}
	})

	t.Run("never negative after deadline", func(t *testing.T) {
		got := rt.remaining(end.Add(5 * time.Minute))
		if got != 0 {
			t.Errorf("remaining = %d, want 0", got)
		}
	})
}

func TestSessionRuntime_RecordAnswer(t *testing.T) {
	t.Run("persists asynchronously", func(t *testing.T) {
		backend := &fakeBackend{}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		resp, err := rt.recordAnswer(3, models.ShortAnswer, "photosynthesis", nil)
		if err != nil {
			t.Fatalf("recordAnswer: %v", err)
		}
		if resp.Revision != 1 {
			t.Errorf("revision = %d, want 1", resp.Revision)
		}

		waitFor(t, time.Second, func() bool { return backend.lastPersisted() != nil })
		saved := backend.lastPersisted()
		if saved.Value != "photosynthesis" || saved.QuestionID != 3 {
			t.Errorf("persisted wrong answer: %+v", saved)
		}
	})

	t.Run("rejected after deadline", func(t *testing.T) {
		rt := testRuntime(t, &fakeBackend{}, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))

		_, err := rt.recordAnswer(1, models.ShortAnswer, "late", nil)
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("err = %v, want ErrSessionExpired", err)
		}
	})

	t.Run("rejected after submission", func(t *testing.T) {
		backend := &fakeBackend{}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		if err := rt.submit(context.Background(), models.SubmitReasonManual); err != nil {
			t.Fatalf("submit: %v", err)
		}
		_, err := rt.recordAnswer(1, models.ShortAnswer, "too late", nil)
		if !errors.Is(err, ErrAlreadySubmitted) {
			t.Errorf("err = %v, want ErrAlreadySubmitted", err)
		}
	})

	t.Run("revisions increase across edits", func(t *testing.T) {
		backend := &fakeBackend{}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		first, _ := rt.recordAnswer(5, models.ShortAnswer, "draft", nil)
		second, _ := rt.recordAnswer(5, models.ShortAnswer, "final", nil)
		if second.Revision <= first.Revision {
			t.Errorf("revisions not increasing: %d then %d", first.Revision, second.Revision)
		}
	})
}

func TestSessionRuntime_SaveCoalescing(t *testing.T) {
	backend := &fakeBackend{persistGate: make(chan struct{})}
	rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

	// First edit starts a save that blocks on the gate; two more edits land
	// while it is in flight.
	if _, err := rt.recordAnswer(9, models.Essay, "v1", nil); err != nil {
		t.Fatalf("recordAnswer: %v", err)
	}
	if _, err := rt.recordAnswer(9, models.Essay, "v2", nil); err != nil {
		t.Fatalf("recordAnswer: %v", err)
	}
	resp, err := rt.recordAnswer(9, models.Essay, "v3", nil)
	if err != nil {
		t.Fatalf("recordAnswer: %v", err)
	}

	close(backend.persistGate)

	waitFor(t, time.Second, func() bool {
		last := backend.lastPersisted()
		return last != nil && last.Revision == resp.Revision
	})

	last := backend.lastPersisted()
	if last.Value != "v3" {
		t.Errorf("final persisted value = %q, want v3", last.Value)
	}

	// The blocked save plus one coalesced follow-up, not one write per edit.
	backend.mu.Lock()
	calls := backend.persistCalls
	backend.mu.Unlock()
	if calls > 2 {
		t.Errorf("persist calls = %d, want at most 2", calls)
	}
}

func TestSessionRuntime_FailedSaveKeepsLocalValue(t *testing.T) {
	backend := &fakeBackend{persistErr: errors.New("storage down")}
	rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

	if _, err := rt.recordAnswer(2, models.ShortAnswer, "kept", nil); err != nil {
		t.Fatalf("recordAnswer: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.persistCalls > 0
	})

	// The local value survives the failed autosave and rides along on submit.
	backend.mu.Lock()
	backend.persistErr = nil
	backend.mu.Unlock()

	if err := rt.submit(context.Background(), models.SubmitReasonManual); err != nil {
		t.Fatalf("submit: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.finalized) != 1 || len(backend.finalized[0]) != 1 {
		t.Fatalf("finalized = %v, want one set with one answer", backend.finalized)
	}
	if backend.finalized[0][0].Value != "kept" {
		t.Errorf("submitted value = %q, want kept", backend.finalized[0][0].Value)
	}
}

func TestSessionRuntime_ClearAnswer(t *testing.T) {
	backend := &fakeBackend{}
	rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

	first, _ := rt.recordAnswer(4, models.ShortAnswer, "draft", nil)
	if err := rt.clearAnswer(4); err != nil {
		t.Fatalf("clearAnswer: %v", err)
	}

	t.Run("cleared answer leaves the snapshot", func(t *testing.T) {
		if got := len(rt.answerSnapshots()); got != 0 {
			t.Errorf("snapshots = %d, want 0", got)
		}
	})

	t.Run("cleared answer is not submitted", func(t *testing.T) {
		if err := rt.submit(context.Background(), models.SubmitReasonManual); err != nil {
			t.Fatalf("submit: %v", err)
		}
		backend.mu.Lock()
		defer backend.mu.Unlock()
		if len(backend.finalized[0]) != 0 {
			t.Errorf("submitted %d answers, want 0", len(backend.finalized[0]))
		}
	})

	t.Run("re-answer outranks the cleared revision", func(t *testing.T) {
		rt2 := testRuntime(t, &fakeBackend{}, time.Now(), time.Now().Add(time.Hour))
		r1, _ := rt2.recordAnswer(4, models.ShortAnswer, "draft", nil)
		_ = rt2.clearAnswer(4)
		r2, _ := rt2.recordAnswer(4, models.ShortAnswer, "again", nil)
		if r2.Revision <= r1.Revision {
			t.Errorf("re-answer revision %d not above cleared revision %d", r2.Revision, r1.Revision)
		}
	})

	_ = first
}

func TestSessionRuntime_Submit(t *testing.T) {
	t.Run("second submit conflicts", func(t *testing.T) {
		backend := &fakeBackend{}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		if err := rt.submit(context.Background(), models.SubmitReasonManual); err != nil {
			t.Fatalf("submit: %v", err)
		}
		err := rt.submit(context.Background(), models.SubmitReasonManual)
		if !errors.Is(err, ErrAlreadySubmitted) {
			t.Errorf("err = %v, want ErrAlreadySubmitted", err)
		}
		if got := backend.finalizeCount(); got != 1 {
			t.Errorf("finalize calls = %d, want 1", got)
		}
	})

	t.Run("concurrent submit is single flight", func(t *testing.T) {
		backend := &fakeBackend{finalizeGate: make(chan struct{})}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		firstDone := make(chan error, 1)
		go func() {
			firstDone <- rt.submit(context.Background(), models.SubmitReasonManual)
		}()

		waitFor(t, time.Second, func() bool {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			return rt.submitInFlight
		})

		if err := rt.submit(context.Background(), models.SubmitReasonManual); !errors.Is(err, ErrSubmitInFlight) {
			t.Errorf("err = %v, want ErrSubmitInFlight", err)
		}

		close(backend.finalizeGate)
		if err := <-firstDone; err != nil {
			t.Fatalf("first submit: %v", err)
		}
		if got := backend.finalizeCount(); got != 1 {
			t.Errorf("finalize calls = %d, want 1", got)
		}
	})

	t.Run("failed submit releases the guard", func(t *testing.T) {
		backend := &fakeBackend{finalizeErr: errors.New("db down")}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		if err := rt.submit(context.Background(), models.SubmitReasonManual); err == nil {
			t.Fatal("submit succeeded, want error")
		}
		if rt.isSubmitted() {
			t.Error("runtime marked submitted after failed finalize")
		}

		backend.mu.Lock()
		backend.finalizeErr = nil
		backend.mu.Unlock()

		if err := rt.submit(context.Background(), models.SubmitReasonManual); err != nil {
			t.Errorf("retry submit: %v", err)
		}
	})

	t.Run("lost race is treated as submitted", func(t *testing.T) {
		backend := &fakeBackend{finalizeErr: ErrAlreadySubmitted}
		rt := testRuntime(t, backend, time.Now(), time.Now().Add(time.Hour))

		err := rt.submit(context.Background(), models.SubmitReasonManual)
		if !errors.Is(err, ErrAlreadySubmitted) {
			t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
		}
		if !rt.isSubmitted() {
			t.Error("runtime not marked submitted after losing the race")
		}
	})
}

func TestSessionRuntime_HandleTick(t *testing.T) {
	t.Run("no fire before deadline", func(t *testing.T) {
		backend := &fakeBackend{}
		end := time.Now().Add(time.Hour)
		rt := testRuntime(t, backend, time.Now(), end)

		if rt.handleTick(end.Add(-time.Minute)) {
			t.Error("tick before deadline requested loop exit")
		}
		if got := backend.finalizeCount(); got != 0 {
			t.Errorf("finalize calls = %d, want 0", got)
		}
	})

	t.Run("fires timeout submission exactly once", func(t *testing.T) {
		backend := &fakeBackend{}
		end := time.Now().Add(-time.Second)
		rt := testRuntime(t, backend, time.Now().Add(-time.Hour), end)

		if !rt.handleTick(time.Now()) {
			t.Error("tick after deadline did not request loop exit")
		}

		waitFor(t, time.Second, func() bool { return backend.finalizeCount() == 1 })

		backend.mu.Lock()
		reason := backend.lastReason
		backend.mu.Unlock()
		if reason != models.SubmitReasonTimeout {
			t.Errorf("reason = %q, want %q", reason, models.SubmitReasonTimeout)
		}
	})

	t.Run("manual submit racing the deadline is not a failure", func(t *testing.T) {
		backend := &fakeBackend{finalizeGate: make(chan struct{})}
		rt := testRuntime(t, backend, time.Now().Add(-time.Hour), time.Now().Add(50*time.Millisecond))

		// A manual submission holds the guard while the countdown expires.
		manualDone := make(chan error, 1)
		go func() {
			manualDone <- rt.submit(context.Background(), models.SubmitReasonManual)
		}()
		waitFor(t, time.Second, func() bool {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			return rt.submitInFlight
		})

		rt.handleTick(time.Now().Add(time.Minute))

		// The auto-submit waits instead of freezing the registration.
		time.Sleep(50 * time.Millisecond)
		if got := backend.frozenCount(); got != 0 {
			t.Errorf("frozen count = %d, want 0 while a submission is in flight", got)
		}

		close(backend.finalizeGate)
		if err := <-manualDone; err != nil {
			t.Fatalf("manual submit: %v", err)
		}

		waitFor(t, time.Second, func() bool { return rt.isSubmitted() })
		time.Sleep(50 * time.Millisecond)
		if got := backend.finalizeCount(); got != 1 {
			t.Errorf("finalize calls = %d, want 1", got)
		}
		if got := backend.frozenCount(); got != 0 {
			t.Errorf("frozen count = %d, want 0 after manual submission won", got)
		}
		backend.mu.Lock()
		reason := backend.lastReason
		backend.mu.Unlock()
		if reason != models.SubmitReasonManual {
			t.Errorf("reason = %q, want %q", reason, models.SubmitReasonManual)
		}
	})

	t.Run("failed auto-submit freezes then retries", func(t *testing.T) {
		backend := &fakeBackend{finalizeErr: errors.New("db down")}
		rt := testRuntime(t, backend, time.Now().Add(-time.Hour), time.Now().Add(-time.Second))

		rt.handleTick(time.Now())

		waitFor(t, time.Second, func() bool { return backend.frozenCount() == 1 })

		backend.mu.Lock()
		backend.finalizeErr = nil
		backend.mu.Unlock()

		waitFor(t, time.Second, func() bool {
			backend.mu.Lock()
			defer backend.mu.Unlock()
			return len(backend.finalized) == 1
		})
	})
}

func TestSessionRuntime_SeedAnswers(t *testing.T) {
	rt := testRuntime(t, &fakeBackend{}, time.Now(), time.Now().Add(time.Hour))

	stored := []*models.StudentAnswer{
		{RegistrationID: 42, QuestionID: 1, Type: models.ShortAnswer, Value: "a", Revision: 3},
		{RegistrationID: 42, QuestionID: 2, Type: models.Essay, Value: "b", Revision: 7},
	}
	rt.seedAnswers(stored)

	if got := len(rt.answerSnapshots()); got != 2 {
		t.Fatalf("snapshots = %d, want 2", got)
	}

	// A fresh edit must outrank the seeded revision.
	resp, err := rt.recordAnswer(2, models.Essay, "b2", nil)
	if err != nil {
		t.Fatalf("recordAnswer: %v", err)
	}
	if resp.Revision <= 7 {
		t.Errorf("revision after seed = %d, want > 7", resp.Revision)
	}
}
