package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fieldops/internal/metrics"
	"fieldops/internal/model"
	"fieldops/internal/store"
)

// CommitState is the per-proposal state machine position.
type CommitState string

const (
	StateIdle                 CommitState = "idle"
	StateValidating           CommitState = "validating"
	StateAwaitingConfirmation CommitState = "awaiting_confirmation"
	StateCommitting           CommitState = "committing"
	StateRejected             CommitState = "rejected"
)

// RejectReason explains a rejected commit.
type RejectReason string

const (
	ReasonCriticalConflict    RejectReason = "critical_conflict"
	ReasonStaleState          RejectReason = "stale_state"
	ReasonConfirmationTimeout RejectReason = "confirmation_timeout"
	ReasonQueueFull           RejectReason = "queue_full"
	ReasonRepositoryError     RejectReason = "repository_error"
)

// DefaultConfirmTimeout bounds how long a proposal may sit awaiting
// confirmation before it auto-rejects.
const DefaultConfirmTimeout = 3 * time.Minute

// DefaultCommitQueueBound caps commits queued behind an in-flight commit
// for the same technician-date slot.
const DefaultCommitQueueBound = 4

// Proposal is the result of ProposeAssignment: the detected conflicts and,
// unless a critical conflict blocked it outright, a commit token the
// caller confirms or cancels.
type Proposal struct {
	State       CommitState      `json:"state"`
	Conflicts   []model.Conflict `json:"conflicts"`
	CommitToken string           `json:"commitToken,omitempty"`
	ExpiresAt   time.Time        `json:"expiresAt,omitempty"`
}

// ConfirmResult is the outcome of ConfirmAssignment.
type ConfirmResult struct {
	OK        bool             `json:"ok"`
	State     CommitState      `json:"state"`
	Reason    RejectReason     `json:"reason,omitempty"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
	Job       model.Job        `json:"job,omitempty"`
}

type slotKey struct {
	TechnicianID string
	Date         string
}

// slot serializes commits for one technician-date key: a single-permit
// semaphore plus a waiter count for backpressure.
type slot struct {
	sem     chan struct{}
	waiters atomic.Int32
}

type pendingCommit struct {
	Token                     string
	TenantID                  string
	JobID                     string
	TechnicianID              string
	Date                      string
	Start, End                model.ClockMinutes
	Status                    model.JobStatus
	Customer, Address         string
	Location                  model.Location
	ExpectedPriorTechnicianID string
	Conflicts                 []model.Conflict
	ExpiresAt                 time.Time
}

// Coordinator serializes and atomically applies accepted assignments.
// At most one commit per (technician, date) is in flight at a time;
// different slots proceed fully in parallel. No coordinator state survives
// a restart: the committed-stops snapshot is always rebuilt from the store.
type Coordinator struct {
	store    store.Store
	detector Detector
	logger   *slog.Logger

	confirmTimeout time.Duration
	queueBound     int
	now            func() time.Time

	mu      sync.Mutex
	slots   map[slotKey]*slot
	pending map[string]*pendingCommit

	stop     chan struct{}
	stopOnce sync.Once
}

// CoordinatorOptions holds the coordinator's dependencies and tuning.
type CoordinatorOptions struct {
	Store          store.Store
	Detector       Detector
	Logger         *slog.Logger
	ConfirmTimeout time.Duration
	QueueBound     int
	Now            func() time.Time
}

// NewCoordinator constructs a Coordinator with defaults applied.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.QueueBound <= 0 {
		opts.QueueBound = DefaultCommitQueueBound
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:          opts.Store,
		detector:       opts.Detector,
		logger:         opts.Logger,
		confirmTimeout: opts.ConfirmTimeout,
		queueBound:     opts.QueueBound,
		now:            opts.Now,
		slots:          map[slotKey]*slot{},
		pending:        map[string]*pendingCommit{},
		stop:           make(chan struct{}),
	}
}

// Propose validates an assignment of a job to a technician at a start time
// against the technician's latest committed schedule. A critical conflict
// rejects outright; otherwise the caller receives a commit token that must
// be confirmed (with an override when advisory conflicts exist) before it
// expires.
func (c *Coordinator) Propose(ctx context.Context, tenantID, jobID, technicianID string, start model.ClockMinutes) (Proposal, error) {
	job, err := c.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return Proposal{}, fmt.Errorf("propose assignment: %w", err)
	}
	if job.Status != model.StatusUnassigned && job.Status != model.StatusScheduled {
		return Proposal{}, fmt.Errorf("propose assignment: job %s has status %s: %w", jobID, job.Status, ErrInvalidInput)
	}
	if job.ServiceDurationMin <= 0 {
		return Proposal{}, fmt.Errorf("propose assignment: job %s has no service duration: %w", jobID, ErrInvalidInput)
	}

	proposed := model.CommittedStop{
		JobID:    job.ID,
		Date:     job.ScheduledDate,
		Start:    start,
		End:      start + model.ClockMinutes(job.ServiceDurationMin),
		Status:   job.Status,
		Customer: job.AccountName,
		Address:  job.Location.Address,
		Location: job.Location,
	}

	committed, err := c.store.ListCommittedStops(ctx, tenantID, technicianID, job.ScheduledDate)
	if err != nil {
		return Proposal{}, fmt.Errorf("propose assignment: snapshot: %w", err)
	}

	conflicts := c.detector.Detect(ctx, proposed, technicianID, committed)
	countConflicts(conflicts)

	if model.MaxSeverity(conflicts) == model.SeverityCritical {
		metrics.Commits.WithLabelValues("rejected_critical").Inc()
		return Proposal{State: StateRejected, Conflicts: conflicts}, nil
	}

	p := &pendingCommit{
		Token:                     uuid.New().String(),
		TenantID:                  tenantID,
		JobID:                     job.ID,
		TechnicianID:              technicianID,
		Date:                      job.ScheduledDate,
		Start:                     proposed.Start,
		End:                       proposed.End,
		Status:                    job.Status,
		Customer:                  proposed.Customer,
		Address:                   proposed.Address,
		Location:                  proposed.Location,
		ExpectedPriorTechnicianID: job.TechnicianID,
		Conflicts:                 conflicts,
		ExpiresAt:                 c.now().Add(c.confirmTimeout),
	}
	c.mu.Lock()
	c.pending[p.Token] = p
	c.mu.Unlock()

	state := StateValidating
	if len(conflicts) > 0 {
		state = StateAwaitingConfirmation
	}
	return Proposal{State: state, Conflicts: conflicts, CommitToken: p.Token, ExpiresAt: p.ExpiresAt}, nil
}

// Confirm commits a pending proposal. The committed snapshot is re-fetched
// and re-validated under the slot lock immediately before the write, so the
// validation is never staler than one commit cycle. The write itself is a
// compare-and-swap on the job's prior technician; a mismatch rejects with
// stale_state rather than overwriting a concurrent change.
func (c *Coordinator) Confirm(ctx context.Context, token string, override bool) (ConfirmResult, error) {
	c.mu.Lock()
	p, ok := c.pending[token]
	if ok && c.now().After(p.ExpiresAt) {
		delete(c.pending, token)
		c.mu.Unlock()
		metrics.Commits.WithLabelValues("expired").Inc()
		return ConfirmResult{State: StateRejected, Reason: ReasonConfirmationTimeout}, ErrTokenExpired
	}
	// Snapshot the conflicts while still holding the lock; a concurrent
	// Confirm on the same token may replace the slice during re-validation.
	var pendingConflicts []model.Conflict
	if ok {
		pendingConflicts = p.Conflicts
	}
	c.mu.Unlock()
	if !ok {
		return ConfirmResult{State: StateRejected}, ErrUnknownToken
	}

	if len(pendingConflicts) > 0 && !override {
		return ConfirmResult{State: StateAwaitingConfirmation, Conflicts: pendingConflicts}, ErrConfirmationRequired
	}

	release, err := c.acquire(ctx, slotKey{TechnicianID: p.TechnicianID, Date: p.Date})
	if err != nil {
		if err == ErrQueueFull {
			metrics.CommitQueueRejections.Inc()
			return ConfirmResult{State: StateRejected, Reason: ReasonQueueFull}, err
		}
		return ConfirmResult{State: StateRejected}, err
	}
	defer release()

	// Re-validate against a fresh snapshot under the slot lock.
	committed, err := c.store.ListCommittedStops(ctx, p.TenantID, p.TechnicianID, p.Date)
	if err != nil {
		c.drop(token)
		metrics.Commits.WithLabelValues("repository_error").Inc()
		return ConfirmResult{State: StateRejected, Reason: ReasonRepositoryError}, fmt.Errorf("confirm assignment: snapshot: %w", err)
	}
	proposed := model.CommittedStop{
		JobID: p.JobID, Date: p.Date, Start: p.Start, End: p.End,
		Status: p.Status, Customer: p.Customer, Address: p.Address, Location: p.Location,
	}
	conflicts := c.detector.Detect(ctx, proposed, p.TechnicianID, committed)
	if model.MaxSeverity(conflicts) == model.SeverityCritical {
		c.drop(token)
		metrics.Commits.WithLabelValues("rejected_critical").Inc()
		return ConfirmResult{State: StateRejected, Reason: ReasonCriticalConflict, Conflicts: conflicts}, nil
	}
	if len(conflicts) > 0 && !override {
		// The schedule changed since Propose; surface the new conflicts.
		c.mu.Lock()
		p.Conflicts = conflicts
		c.mu.Unlock()
		return ConfirmResult{State: StateAwaitingConfirmation, Conflicts: conflicts}, ErrConfirmationRequired
	}

	ok, err = c.store.UpdateAssignment(ctx, p.TenantID, store.AssignmentUpdate{
		JobID:                     p.JobID,
		ExpectedPriorTechnicianID: p.ExpectedPriorTechnicianID,
		TechnicianID:              p.TechnicianID,
		Status:                    model.StatusScheduled,
		ScheduledStart:            p.Start,
		ScheduledEnd:              p.End,
	})
	if err != nil {
		// Never assume the write succeeded without acknowledgment.
		c.drop(token)
		metrics.Commits.WithLabelValues("repository_error").Inc()
		return ConfirmResult{State: StateRejected, Reason: ReasonRepositoryError}, fmt.Errorf("confirm assignment: update: %w", err)
	}
	if !ok {
		c.drop(token)
		metrics.Commits.WithLabelValues("stale_state").Inc()
		return ConfirmResult{State: StateRejected, Reason: ReasonStaleState}, ErrStaleState
	}

	c.drop(token)
	metrics.Commits.WithLabelValues("committed").Inc()
	job, err := c.store.GetJob(ctx, p.TenantID, p.JobID)
	if err != nil {
		// The commit already landed; the refreshed snapshot is best-effort.
		c.logger.Warn("refresh after commit failed", "jobId", p.JobID, "error", err)
		return ConfirmResult{OK: true, State: StateIdle}, nil
	}
	return ConfirmResult{OK: true, State: StateIdle, Job: job}, nil
}

// Cancel discards a pending proposal, returning its slot to Idle.
func (c *Coordinator) Cancel(token string) bool {
	return c.drop(token)
}

func (c *Coordinator) drop(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[token]; !ok {
		return false
	}
	delete(c.pending, token)
	return true
}

// acquire takes the single-permit slot semaphore, refusing immediately
// when the waiter queue for the slot is already at the bound.
func (c *Coordinator) acquire(ctx context.Context, key slotKey) (func(), error) {
	c.mu.Lock()
	s := c.slots[key]
	if s == nil {
		s = &slot{sem: make(chan struct{}, 1)}
		c.slots[key] = s
	}
	c.mu.Unlock()

	if int(s.waiters.Add(1)) > c.queueBound+1 {
		s.waiters.Add(-1)
		return nil, ErrQueueFull
	}
	select {
	case s.sem <- struct{}{}:
		return func() {
			<-s.sem
			s.waiters.Add(-1)
		}, nil
	case <-ctx.Done():
		s.waiters.Add(-1)
		return nil, ctx.Err()
	}
}

// StartReaper launches the background loop that expires proposals left
// awaiting confirmation. Call Stop to halt it.
func (c *Coordinator) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.expireOnce(c.now())
			}
		}
	}()
}

// Stop halts the reaper loop.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// expireOnce removes every pending proposal past its deadline and returns
// how many were expired.
func (c *Coordinator) expireOnce(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := 0
	for token, p := range c.pending {
		if now.After(p.ExpiresAt) {
			delete(c.pending, token)
			expired++
			c.logger.Info("proposal expired awaiting confirmation",
				"jobId", p.JobID, "technicianId", p.TechnicianID, "date", p.Date)
			metrics.Commits.WithLabelValues("expired").Inc()
		}
	}
	return expired
}

// PendingCount reports how many proposals are awaiting confirmation.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func countConflicts(conflicts []model.Conflict) {
	for _, cf := range conflicts {
		metrics.ConflictsDetected.WithLabelValues(string(cf.Type)).Inc()
	}
}
