package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/campus-exams/exam-service/internal/models"
)

// sessionBackend is what a runtime needs from its owning service. Kept
// narrow so runtimes can be driven against a fake in tests.
type sessionBackend interface {
	// persistAnswer stores one autosaved answer. The storage layer drops
	// writes carrying a revision older than the stored one.
	persistAnswer(ctx context.Context, answer *models.StudentAnswer) error

	// finalizeSubmission stores the final answer set and records the
	// submission timestamp exactly once. Returns ErrAlreadySubmitted when
	// another writer won the submission.
	finalizeSubmission(ctx context.Context, registrationID uint, reason string, answers []*models.StudentAnswer, submitTime time.Time) error

	// freezeExpired parks a session whose deadline passed but whose
	// submission could not be stored, so no further answers are accepted
	// while the submission is retried.
	freezeExpired(ctx context.Context, registrationID uint, cause error)

	// recordHeartbeat refreshes the session's liveness marker.
	recordHeartbeat(ctx context.Context, registrationID uint)
}

// runtimeConfig carries the timing knobs of a runtime. Tests shrink these.
type runtimeConfig struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
}

func defaultRuntimeConfig(heartbeat, retry time.Duration) runtimeConfig {
	cfg := runtimeConfig{
		TickInterval:      time.Second,
		HeartbeatInterval: heartbeat,
		RetryInterval:     retry,
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	return cfg
}

// answerEntry is the in-memory state of one question's answer.
type answerEntry struct {
	answer models.StudentAnswer

	// saving marks an in-flight persist; dirty marks an edit that arrived
	// while one was running. Completed saves pick up the newest snapshot,
	// so slow writes never clobber fast ones.
	saving bool
	dirty  bool

	// lastSaveErr is surfaced through the status endpoint; a failed
	// autosave keeps the local value so submission still carries it.
	lastSaveErr error
}

// sessionRuntime owns one running exam session: the countdown tick loop,
// the heartbeat, the local answer state and the single-flight submission
// guard. All mutable state is behind mu.
type sessionRuntime struct {
	registrationID uint
	paperID        uint
	studentID      string
	startTime      time.Time
	endTime        time.Time

	backend sessionBackend
	logger  *slog.Logger
	config  runtimeConfig
	now     func() time.Time

	mu        sync.Mutex
	answers   map[uint]*answerEntry
	revisions map[uint]int64 // survives ClearAnswer so re-answers keep climbing
	status    models.RegistrationStatus

	submitInFlight bool
	submitted      bool
	autoFired      bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newSessionRuntime(reg *models.Registration, backend sessionBackend, logger *slog.Logger, config runtimeConfig) *sessionRuntime {
	rt := &sessionRuntime{
		registrationID: reg.ID,
		paperID:        reg.PaperID,
		studentID:      reg.StudentID,
		backend:        backend,
		logger:         logger,
		config:         config,
		now:            time.Now,
		answers:        make(map[uint]*answerEntry),
		revisions:      make(map[uint]int64),
		status:         models.RegistrationInProgress,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	if reg.ExamStartTime != nil {
		rt.startTime = *reg.ExamStartTime
	}
	if reg.ExamEndTime != nil {
		rt.endTime = *reg.ExamEndTime
	}
	return rt
}

// seedAnswers loads previously stored answers, used on resume and recovery.
func (rt *sessionRuntime) seedAnswers(stored []*models.StudentAnswer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, answer := range stored {
		rt.answers[answer.QuestionID] = &answerEntry{answer: *answer}
		if answer.Revision > rt.revisions[answer.QuestionID] {
			rt.revisions[answer.QuestionID] = answer.Revision
		}
	}
}

// start launches the tick and heartbeat loops.
func (rt *sessionRuntime) start() {
	go rt.run()
}

func (rt *sessionRuntime) run() {
	defer close(rt.doneCh)

	ticker := time.NewTicker(rt.config.TickInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(rt.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-rt.stopCh:
			return
		case <-ticker.C:
			if rt.handleTick(rt.now()) {
				return
			}
		case <-heartbeat.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			rt.backend.recordHeartbeat(ctx, rt.registrationID)
			cancel()
		}
	}
}

// stop halts the loops without submitting. Safe to call more than once.
func (rt *sessionRuntime) stop() {
	rt.stopOnce.Do(func() {
		close(rt.stopCh)
	})
}

// handleTick fires the auto-submission when the countdown reaches zero.
// Returns true when the run loop should exit.
func (rt *sessionRuntime) handleTick(now time.Time) bool {
	rt.mu.Lock()
	if rt.submitted {
		rt.mu.Unlock()
		return true
	}
	if now.Before(rt.endTime) || rt.autoFired {
		rt.mu.Unlock()
		return false
	}
	rt.autoFired = true
	rt.mu.Unlock()

	rt.logger.Info("Session time expired, auto-submitting",
		"registration_id", rt.registrationID,
		"student_id", rt.studentID)

	go rt.autoSubmit()
	return true
}

// autoSubmit performs the timeout submission, retrying on a fixed interval
// until the store accepts it or the runtime is stopped. A manual submission
// racing the deadline is left to finish; the registration is frozen only
// after a storage failure so no late answers slip in meanwhile.
func (rt *sessionRuntime) autoSubmit() {
	submit := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return rt.submit(ctx, models.SubmitReasonTimeout)
	}

	retry := time.NewTicker(rt.config.RetryInterval)
	defer retry.Stop()

	frozen := false
	err := submit()
	for {
		switch {
		case err == nil || errors.Is(err, ErrAlreadySubmitted):
			if frozen {
				rt.logger.Info("Auto-submit retry succeeded",
					"registration_id", rt.registrationID)
			}
			return
		case errors.Is(err, ErrSubmitInFlight):
			// Another caller holds the submission guard; wait it out.
		case !frozen:
			frozen = true
			rt.logger.Error("Auto-submit failed, will retry",
				"registration_id", rt.registrationID,
				"error", err)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			rt.backend.freezeExpired(ctx, rt.registrationID, err)
			cancel()
		default:
			rt.logger.Error("Auto-submit retry failed",
				"registration_id", rt.registrationID,
				"error", err)
		}

		select {
		case <-rt.stopCh:
			return
		case <-retry.C:
			if rt.isSubmitted() {
				return
			}
			err = submit()
		}
	}
}

// remaining returns whole seconds left, never negative.
func (rt *sessionRuntime) remaining(now time.Time) int {
	left := int(rt.endTime.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// snapshot derives the current session status.
func (rt *sessionRuntime) snapshot(now time.Time) models.ExamStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	start := rt.startTime
	end := rt.endTime
	return models.ExamStatus{
		RegistrationID:       rt.registrationID,
		Status:               rt.status,
		ExamStartTime:        &start,
		ExamEndTime:          &end,
		TimeRemainingSeconds: rt.remaining(now),
		AnsweredCount:        len(rt.answers),
	}
}

// recordAnswer accepts a new answer value, bumps its revision and schedules
// an asynchronous persist. The write is rejected once time is up or a
// submission has begun.
func (rt *sessionRuntime) recordAnswer(questionID uint, answerType models.QuestionType, value string, payload []byte) (*SaveAnswerResponse, error) {
	now := rt.now()

	rt.mu.Lock()
	if rt.submitted {
		rt.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	if rt.submitInFlight {
		rt.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if !now.Before(rt.endTime) {
		rt.mu.Unlock()
		return nil, ErrSessionExpired
	}

	revision := rt.revisions[questionID] + 1
	rt.revisions[questionID] = revision

	entry, ok := rt.answers[questionID]
	if !ok {
		entry = &answerEntry{}
		rt.answers[questionID] = entry
	}
	entry.answer = models.StudentAnswer{
		RegistrationID: rt.registrationID,
		QuestionID:     questionID,
		Type:           answerType,
		Value:          value,
		Payload:        payload,
		Revision:       revision,
		SavedAt:        now,
	}

	if entry.saving {
		entry.dirty = true
		rt.mu.Unlock()
	} else {
		entry.saving = true
		snapshot := entry.answer
		rt.mu.Unlock()
		go rt.saveLoop(questionID, snapshot)
	}

	return &SaveAnswerResponse{
		QuestionID: questionID,
		Revision:   revision,
		SavedAt:    now,
	}, nil
}

// saveLoop persists an answer snapshot and, when edits landed during the
// write, loops with the newest snapshot. One loop runs per question at most.
func (rt *sessionRuntime) saveLoop(questionID uint, snapshot models.StudentAnswer) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := rt.backend.persistAnswer(ctx, &snapshot)
		cancel()

		rt.mu.Lock()
		entry, ok := rt.answers[questionID]
		if !ok {
			// Cleared while saving; nothing left to track.
			rt.mu.Unlock()
			return
		}
		entry.lastSaveErr = err
		if err != nil {
			rt.logger.Warn("Answer autosave failed, keeping local value",
				"registration_id", rt.registrationID,
				"question_id", questionID,
				"revision", snapshot.Revision,
				"error", err)
		}
		if entry.dirty {
			entry.dirty = false
			snapshot = entry.answer
			rt.mu.Unlock()
			continue
		}
		entry.saving = false
		rt.mu.Unlock()
		return
	}
}

// clearAnswer drops the local answer. The stored row, if any, disappears
// when submission replaces the answer set; no eager delete is issued.
func (rt *sessionRuntime) clearAnswer(questionID uint) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.submitted {
		return ErrAlreadySubmitted
	}
	if rt.submitInFlight {
		return ErrSubmitInFlight
	}
	if !rt.now().Before(rt.endTime) {
		return ErrSessionExpired
	}

	delete(rt.answers, questionID)
	// Revision counter is kept so a re-answer outranks the stored row.
	rt.revisions[questionID]++
	return nil
}

// submit runs the single-flight submission. Exactly one caller may hold the
// guard; a second concurrent call gets ErrSubmitInFlight, a later one
// ErrAlreadySubmitted. On failure the guard is released so the student can
// try again.
func (rt *sessionRuntime) submit(ctx context.Context, reason string) error {
	rt.mu.Lock()
	if rt.submitted {
		rt.mu.Unlock()
		return ErrAlreadySubmitted
	}
	if rt.submitInFlight {
		rt.mu.Unlock()
		return ErrSubmitInFlight
	}
	rt.submitInFlight = true

	answers := make([]*models.StudentAnswer, 0, len(rt.answers))
	for _, entry := range rt.answers {
		answer := entry.answer
		if answer.IsEmpty() {
			continue
		}
		answers = append(answers, &answer)
	}
	submitTime := rt.now()
	rt.mu.Unlock()

	err := rt.backend.finalizeSubmission(ctx, rt.registrationID, reason, answers, submitTime)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.submitInFlight = false
	if err != nil {
		if errors.Is(err, ErrAlreadySubmitted) {
			rt.submitted = true
			rt.status = models.RegistrationSubmitted
		}
		return err
	}

	rt.submitted = true
	rt.status = models.RegistrationSubmitted
	return nil
}

// answeredCount is used by the status endpoint.
func (rt *sessionRuntime) answeredCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.answers)
}

// answerSnapshots exposes the local answers for session resume responses.
func (rt *sessionRuntime) answerSnapshots() []*AnswerSnapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	snapshots := make([]*AnswerSnapshot, 0, len(rt.answers))
	for _, entry := range rt.answers {
		snapshots = append(snapshots, &AnswerSnapshot{
			QuestionID: entry.answer.QuestionID,
			Type:       entry.answer.Type,
			Value:      entry.answer.Value,
			Payload:    entry.answer.Payload,
			Revision:   entry.answer.Revision,
			SavedAt:    entry.answer.SavedAt,
		})
	}
	return snapshots
}

func (rt *sessionRuntime) isSubmitted() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.submitted
}
