package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"jobchain/core/events"
	"jobchain/core/state"
	"jobchain/core/types"
	"jobchain/crypto"
	"jobchain/native/common"
	"jobchain/native/escrow"
	"jobchain/native/proof"
	"jobchain/native/reputation"
	"jobchain/native/system/quotas"
	"jobchain/observability"
	"jobchain/observability/logging"
)

// ModuleName is the pause key guarding every lifecycle command.
const ModuleName = "jobs"

const (
	maxSaltBytes          = 64
	maxDescriptionBytes   = 512
	maxDisputeReasonBytes = 1024
)

var errNilState = errors.New("jobs engine: state not configured")

// Config carries the operator policy applied by the engine.
type Config struct {
	MaxMilestones    int
	RequireProof     bool
	MaxFeedbackBytes int
	PostQuota        common.Quota
}

// DefaultConfig returns the policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxMilestones:    64,
		MaxFeedbackBytes: reputation.DefaultMaxFeedbackBytes,
	}
}

// Result describes a committed command.
type Result struct {
	RequestID  string
	Kind       types.CommandKind
	Job        *JobPosting
	Rating     *reputation.JobRating
	Reputation *reputation.Reputation
	Transfers  []events.EscrowTransfer
}

// Engine applies lifecycle commands. Each command runs in its own state
// transaction covering the job record, the escrow account, the reputation
// ledger and the balances involved; events are emitted only after the
// transaction commits. An Engine is safe for concurrent use once configured.
type Engine struct {
	state    *state.Manager
	verifier proof.Verifier
	emitter  events.Emitter
	logger   *slog.Logger
	pauses   common.PauseView
	cfg      Config
	nowFn    func() int64
	tracer   trace.Tracer
	commands metric.Int64Counter
}

// NewEngine creates an engine over the supplied state with the default
// policy, a verifier that refuses every proof and a no-op emitter.
func NewEngine(st *state.Manager) *Engine {
	counter, err := otel.Meter("jobchain/native/jobs").Int64Counter(
		"jobs.commands",
		metric.WithDescription("Lifecycle commands applied, by kind and outcome."),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	return &Engine{
		state:    st,
		verifier: proof.RejectAll,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		cfg:      DefaultConfig(),
		nowFn:    func() int64 { return time.Now().Unix() },
		tracer:   otel.Tracer("jobchain/native/jobs"),
		commands: counter,
	}
}

// SetVerifier configures the proof verifier. nil restores RejectAll.
func (e *Engine) SetVerifier(v proof.Verifier) {
	if v == nil {
		v = proof.RejectAll
	}
	e.verifier = v
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger. nil selects slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetPauses configures the view consulted before every command.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetConfig replaces the operator policy. Zero limits fall back to defaults.
func (e *Engine) SetConfig(cfg Config) {
	def := DefaultConfig()
	if cfg.MaxMilestones <= 0 {
		cfg.MaxMilestones = def.MaxMilestones
	}
	if cfg.MaxFeedbackBytes <= 0 {
		cfg.MaxFeedbackBytes = def.MaxFeedbackBytes
	}
	e.cfg = cfg
}

// Config returns the active policy.
func (e *Engine) Config() Config { return e.cfg }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// txn is the per-command unit of work.
type txn struct {
	tx        *state.Tx
	store     *Store
	custodian *escrow.Custodian
	ledger    *reputation.Ledger
	now       int64
	result    Result
	events    []events.Event
}

func (e *Engine) begin() *txn {
	tx := e.state.Begin()
	custodian := escrow.NewCustodian(tx)
	custodian.SetNowFunc(e.nowFn)
	ledger := reputation.NewLedger(tx)
	ledger.SetNowFunc(e.nowFn)
	ledger.SetMaxFeedbackBytes(e.cfg.MaxFeedbackBytes)
	return &txn{
		tx:        tx,
		store:     NewStore(tx),
		custodian: custodian,
		ledger:    ledger,
		now:       e.now(),
	}
}

func (c *txn) stamp() uint64 {
	if c.now < 0 {
		return 0
	}
	return uint64(c.now)
}

func (c *txn) load(id [32]byte) (*JobPosting, error) {
	return c.store.Get(id)
}

// save bumps the record version and queues the transition event.
func (c *txn) save(job *JobPosting, eventType string, actor [20]byte, milestone int) error {
	job.Version++
	job.UpdatedAt = c.stamp()
	if err := c.store.Put(job); err != nil {
		return err
	}
	c.result.Job = job.Clone()
	c.events = append(c.events, JobEvent{Type: eventType, Job: job.Clone(), Actor: actor, Milestone: milestone})
	return nil
}

// Execute applies cmd on behalf of caller. The caller must already be
// authenticated; Apply does that for signed envelopes.
func (e *Engine) Execute(ctx context.Context, caller [20]byte, cmd Command) (*Result, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: command missing", ErrOutOfRange)
	}
	return e.run(ctx, cmd.Kind(), caller, 0, func(c *txn) error {
		return e.dispatch(c, caller, cmd)
	})
}

// Apply authenticates a signed envelope, decodes its command and applies it.
// Envelope nonces must strictly increase per signer; a replayed nonce fails
// with ErrAlreadySet.
func (e *Engine) Apply(ctx context.Context, env *types.Envelope) (*Result, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope missing", ErrOutOfRange)
	}
	caller, err := env.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	cmd, err := DecodeCommand(env)
	if err != nil {
		return nil, err
	}
	if env.Nonce == 0 {
		return nil, fmt.Errorf("%w: nonce must be positive", ErrOutOfRange)
	}
	return e.run(ctx, cmd.Kind(), caller, env.Nonce, func(c *txn) error {
		return e.dispatch(c, caller, cmd)
	})
}

func (e *Engine) dispatch(c *txn, caller [20]byte, cmd Command) error {
	switch cmd := cmd.(type) {
	case PostJob:
		return e.post(c, caller, cmd)
	case AcceptJob:
		return e.accept(c, caller, cmd.JobID)
	case CompleteMilestone:
		return e.completeMilestone(c, caller, cmd.JobID, cmd.Index)
	case ConfirmCompletion:
		return e.confirmCompletion(c, caller, cmd.JobID, cmd.ExpectedTotal)
	case DisputeJob:
		return e.dispute(c, caller, cmd.JobID, cmd.Reason)
	case CancelJob:
		return e.cancel(c, caller, cmd.JobID)
	case ExpireJob:
		return e.expire(c, caller, cmd.JobID)
	case RateJob:
		return e.rate(c, caller, cmd.JobID, cmd.Rating, cmd.Feedback)
	default:
		return fmt.Errorf("%w: unsupported command %T", ErrOutOfRange, cmd)
	}
}

func (e *Engine) run(ctx context.Context, kind types.CommandKind, caller [20]byte, nonce uint64, fn func(*txn) error) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "jobs."+kind.String(), trace.WithAttributes(
		attribute.String("jobs.kind", kind.String()),
		attribute.String("jobs.request_id", requestID),
	))
	defer span.End()

	res, err := e.runTx(ctx, kind, caller, nonce, requestID, fn)

	outcome := "ok"
	if err != nil {
		outcome = KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, "")
		if res.Job != nil {
			span.SetAttributes(
				attribute.String("jobs.job_id", fmt.Sprintf("%x", res.Job.ID)),
				attribute.String("jobs.status", res.Job.Status.String()),
			)
		}
	}
	observability.Jobs().ObserveCommand(kind.String(), outcome, time.Since(start))
	e.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("outcome", outcome),
	))

	attrs := []any{
		"kind", kind.String(),
		"request_id", requestID,
		"caller", crypto.FromRaw(caller).String(),
	}
	if err != nil {
		attrs = append(attrs, "outcome", outcome, "error", err)
		if outcome == "internal" {
			e.logger.Error("job command failed", attrs...)
		} else {
			e.logger.Warn("job command rejected", attrs...)
		}
		return nil, err
	}
	if res.Job != nil {
		attrs = append(attrs,
			"job_id", fmt.Sprintf("%x", res.Job.ID),
			"status", res.Job.Status.String(),
			"version", res.Job.Version,
		)
		if res.Job.DisputeReason != "" && kind == types.CommandDispute {
			attrs = append(attrs, logging.MaskField("dispute_reason", res.Job.DisputeReason))
		}
	}
	if res.Rating != nil {
		attrs = append(attrs, "rating", res.Rating.Rating, logging.MaskField("feedback", res.Rating.Feedback))
	}
	e.logger.Info("job command committed", attrs...)
	return res, nil
}

func (e *Engine) runTx(ctx context.Context, kind types.CommandKind, caller [20]byte, nonce uint64, requestID string, fn func(*txn) error) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		observability.Jobs().RecordThrottle("paused")
		return nil, err
	}
	if e.state == nil {
		return nil, errNilState
	}
	c := e.begin()
	defer c.tx.Discard()

	if nonce > 0 {
		last, err := c.store.LastNonce(caller)
		if err != nil {
			return nil, err
		}
		if nonce <= last {
			return nil, fmt.Errorf("%w: nonce %d already used (last %d)", ErrAlreadySet, nonce, last)
		}
		if err := c.store.SetNonce(caller, nonce); err != nil {
			return nil, err
		}
	}
	if err := fn(c); err != nil {
		return nil, e.classify(kind, requestID, err)
	}
	if err := c.tx.Commit(); err != nil {
		return nil, e.classify(kind, requestID, err)
	}

	c.result.RequestID = requestID
	c.result.Kind = kind
	c.result.Transfers = c.custodian.Transfers()
	e.publish(c)
	return &c.result, nil
}

// classify maps substrate and collaborator errors onto the engine taxonomy.
func (e *Engine) classify(kind types.CommandKind, requestID string, err error) error {
	switch {
	case errors.Is(err, state.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	case errors.Is(err, state.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, reputation.ErrRatingOutOfRange), errors.Is(err, reputation.ErrFeedbackTooLong):
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	case errors.Is(err, reputation.ErrAlreadyRated):
		return fmt.Errorf("%w: %w", ErrAlreadySet, err)
	case errors.Is(err, escrow.ErrInsufficientEscrowBalance),
		errors.Is(err, escrow.ErrAccountClosed),
		errors.Is(err, escrow.ErrAccountNotFound),
		errors.Is(err, escrow.ErrAlreadyFunded),
		errors.Is(err, state.ErrBalanceOverflow):
		e.logger.Error("escrow invariant violated",
			"kind", kind.String(),
			"request_id", requestID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return err
}

func (e *Engine) publish(c *txn) {
	for _, transfer := range c.result.Transfers {
		observability.Escrow().RecordTransfer(transfer.Direction, transfer.Amount)
		e.emitter.Emit(transfer)
	}
	for _, evt := range c.events {
		if je, ok := evt.(JobEvent); ok && je.Job != nil {
			observability.Jobs().RecordTransition(je.Job.Status.String())
		}
		e.emitter.Emit(evt)
	}
}

func (e *Engine) post(c *txn, caller [20]byte, cmd PostJob) error {
	if cmd.Proof != nil {
		if err := proof.CheckComponents(cmd.Proof); err != nil {
			return fmt.Errorf("%w: %w", ErrProofRejected, err)
		}
		if !e.verifier.Verify(cmd.Proof) {
			return fmt.Errorf("%w: verifier refused proof", ErrProofRejected)
		}
	} else if e.cfg.RequireProof {
		return fmt.Errorf("%w: proof required", ErrProofRejected)
	}

	job, err := e.newPosting(c, caller, cmd)
	if err != nil {
		return err
	}
	exists, err := c.store.Exists(job.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: job %x already posted", ErrAlreadySet, job.ID)
	}
	if err := e.consumePostQuota(c, caller, job.TotalPayment); err != nil {
		return err
	}
	if err := c.custodian.Deposit(job.ID, caller, job.TotalPayment); err != nil {
		return err
	}
	if err := c.store.Index(job); err != nil {
		return err
	}
	return c.save(job, EventTypeJobPosted, caller, -1)
}

func (e *Engine) newPosting(c *txn, employer [20]byte, cmd PostJob) (*JobPosting, error) {
	if cmd.TotalPayment == nil || cmd.TotalPayment.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total payment must be positive", ErrOutOfRange)
	}
	if len(cmd.Salt) > maxSaltBytes {
		return nil, fmt.Errorf("%w: salt exceeds %d bytes", ErrOutOfRange, maxSaltBytes)
	}
	if len(cmd.Milestones) > e.cfg.MaxMilestones {
		return nil, fmt.Errorf("%w: %d milestones exceeds limit %d", ErrOutOfRange, len(cmd.Milestones), e.cfg.MaxMilestones)
	}
	if cmd.ExpirationTime < 0 || (cmd.ExpirationTime > 0 && cmd.ExpirationTime <= c.now) {
		return nil, fmt.Errorf("%w: expiration must be in the future", ErrOutOfRange)
	}
	if len(cmd.MetaHash) != 0 && len(cmd.MetaHash) != 32 {
		return nil, fmt.Errorf("%w: meta hash must be 32 bytes", ErrOutOfRange)
	}

	job := &JobPosting{
		ID:             DeriveJobID(employer, cmd.Salt),
		Employer:       employer,
		Status:         StatusPosted,
		Milestones:     make([]Milestone, 0, len(cmd.Milestones)),
		TotalPayment:   new(big.Int).Set(cmd.TotalPayment),
		ExpirationTime: uint64(cmd.ExpirationTime),
		CreatedAt:      c.stamp(),
	}
	copy(job.MetaHash[:], cmd.MetaHash)

	sum := big.NewInt(0)
	for i, spec := range cmd.Milestones {
		desc := norm.NFC.String(strings.TrimSpace(spec.Description))
		if desc == "" || len(desc) > maxDescriptionBytes {
			return nil, fmt.Errorf("%w: milestone %d description must be 1-%d bytes", ErrOutOfRange, i, maxDescriptionBytes)
		}
		if spec.PaymentAmount == nil || spec.PaymentAmount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d payment must be positive", ErrOutOfRange, i)
		}
		if spec.Deadline < 0 || (spec.Deadline > 0 && spec.Deadline <= c.now) {
			return nil, fmt.Errorf("%w: milestone %d deadline must be in the future", ErrOutOfRange, i)
		}
		sum.Add(sum, spec.PaymentAmount)
		job.Milestones = append(job.Milestones, Milestone{
			Description:   desc,
			PaymentAmount: new(big.Int).Set(spec.PaymentAmount),
			Deadline:      uint64(spec.Deadline),
		})
	}
	if sum.Cmp(job.TotalPayment) > 0 {
		return nil, fmt.Errorf("%w: milestone payments %s exceed total %s", ErrOutOfRange, sum, job.TotalPayment)
	}
	return job, nil
}

func (e *Engine) consumePostQuota(c *txn, employer [20]byte, amount *big.Int) error {
	q := e.cfg.PostQuota
	if !q.Enabled() {
		return nil
	}
	value := uint64(0)
	if amount.IsUint64() {
		value = amount.Uint64()
	} else if q.MaxValuePerEpoch > 0 {
		observability.Jobs().RecordThrottle("quota_exceeded")
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, common.ErrQuotaValueCapExceeded)
	}
	store := quotas.NewStore(c.tx)
	if _, err := common.Apply(store, ModuleName, q.EpochAt(c.now), employer, q, 1, value); err != nil {
		if errors.Is(err, common.ErrQuotaRequestsExceeded) || errors.Is(err, common.ErrQuotaValueCapExceeded) || errors.Is(err, common.ErrQuotaCounterOverflow) {
			observability.Jobs().RecordThrottle("quota_exceeded")
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return err
	}
	return nil
}

// PruneQuotaEpoch drops the posting counters of a finished epoch and returns
// how many employers were cleared.
func (e *Engine) PruneQuotaEpoch(epoch uint64) (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if current := e.cfg.PostQuota.EpochAt(e.now()); epoch >= current && e.cfg.PostQuota.Enabled() {
		return 0, fmt.Errorf("%w: epoch %d is not finished", ErrOutOfRange, epoch)
	}
	var pruned int
	err := e.state.Update(func(tx *state.Tx) error {
		var err error
		pruned, err = quotas.NewStore(tx).PruneEpoch(ModuleName, epoch)
		return err
	})
	return pruned, err
}

func (e *Engine) accept(c *txn, caller [20]byte, id [32]byte) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if job.HasFreelancer() {
		return fmt.Errorf("%w: freelancer already assigned", ErrAlreadySet)
	}
	if job.Status != StatusPosted {
		return fmt.Errorf("%w: cannot accept a %s job", ErrInvalidState, job.Status)
	}
	if caller == job.Employer {
		return fmt.Errorf("%w: employer cannot accept own job", ErrUnauthorized)
	}
	if job.Expired(c.now) {
		return fmt.Errorf("%w: posting expired at %d", ErrDeadlineExceeded, job.ExpirationTime)
	}
	job.Freelancer = caller
	job.Status = StatusAccepted
	return c.save(job, EventTypeJobAccepted, caller, -1)
}

func (e *Engine) completeMilestone(c *txn, caller [20]byte, id [32]byte, index uint32) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if caller != job.Employer {
		return fmt.Errorf("%w: only the employer completes milestones", ErrUnauthorized)
	}
	if job.Status != StatusAccepted && job.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot complete milestones of a %s job", ErrInvalidState, job.Status)
	}
	if int(index) >= len(job.Milestones) {
		return fmt.Errorf("%w: milestone %d of %d", ErrNotFound, index, len(job.Milestones))
	}
	m := &job.Milestones[index]
	if m.Completed {
		return fmt.Errorf("%w: milestone %d already completed", ErrInvalidState, index)
	}
	if m.Deadline != 0 && c.stamp() > m.Deadline {
		return fmt.Errorf("%w: milestone %d deadline %d passed", ErrDeadlineExceeded, index, m.Deadline)
	}
	if err := c.custodian.Release(id, m.PaymentAmount, job.Freelancer, int(index)); err != nil {
		return err
	}
	m.Completed = true
	m.CompletedAt = c.stamp()
	job.Status = StatusInProgress
	return c.save(job, EventTypeJobMilestoneCompleted, caller, int(index))
}

func (e *Engine) confirmCompletion(c *txn, caller [20]byte, id [32]byte, expected *big.Int) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if caller != job.Employer {
		return fmt.Errorf("%w: only the employer confirms completion", ErrUnauthorized)
	}
	switch {
	case job.Status == StatusInProgress:
	case job.Status == StatusAccepted && len(job.Milestones) == 0:
	default:
		return fmt.Errorf("%w: cannot confirm a %s job", ErrInvalidState, job.Status)
	}
	if !job.AllMilestonesCompleted() {
		return fmt.Errorf("%w: milestones outstanding", ErrInvalidState)
	}
	if expected != nil && expected.Cmp(job.TotalPayment) != 0 {
		return fmt.Errorf("%w: expected total %s does not match %s", ErrOutOfRange, expected, job.TotalPayment)
	}
	if _, err := c.custodian.Settle(id, job.Freelancer); err != nil {
		return err
	}
	job.Status = StatusCompleted
	return c.save(job, EventTypeJobCompleted, caller, -1)
}

func (e *Engine) cancel(c *txn, caller [20]byte, id [32]byte) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if caller != job.Employer {
		return fmt.Errorf("%w: only the employer cancels", ErrUnauthorized)
	}
	switch job.Status {
	case StatusPosted, StatusAccepted, StatusInProgress:
	case StatusDisputed:
		if job.HasFreelancer() {
			return fmt.Errorf("%w: disputed job has a freelancer", ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidState, job.Status)
	}
	if _, err := c.custodian.Refund(id, job.Employer); err != nil {
		return err
	}
	job.Status = StatusCancelled
	return c.save(job, EventTypeJobCancelled, caller, -1)
}

func (e *Engine) dispute(c *txn, caller [20]byte, id [32]byte, reason string) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if caller != job.Employer && !(job.HasFreelancer() && caller == job.Freelancer) {
		return fmt.Errorf("%w: only the parties may dispute", ErrUnauthorized)
	}
	switch job.Status {
	case StatusPosted, StatusAccepted, StatusInProgress:
	default:
		return fmt.Errorf("%w: cannot dispute a %s job", ErrInvalidState, job.Status)
	}
	reason = norm.NFC.String(reason)
	if len(reason) > maxDisputeReasonBytes {
		return fmt.Errorf("%w: reason exceeds %d bytes", ErrOutOfRange, maxDisputeReasonBytes)
	}
	job.Status = StatusDisputed
	job.DisputedBy = caller
	job.DisputeReason = reason
	return c.save(job, EventTypeJobDisputed, caller, -1)
}

func (e *Engine) expire(c *txn, caller [20]byte, id [32]byte) error {
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if job.Status != StatusPosted {
		return fmt.Errorf("%w: cannot expire a %s job", ErrInvalidState, job.Status)
	}
	if !job.Expired(c.now) {
		return fmt.Errorf("%w: posting has not expired", ErrInvalidState)
	}
	if _, err := c.custodian.Refund(id, job.Employer); err != nil {
		return err
	}
	job.Status = StatusCancelled
	return c.save(job, EventTypeJobExpired, caller, -1)
}

func (e *Engine) rate(c *txn, caller [20]byte, id [32]byte, score uint8, feedback string) error {
	if score < reputation.MinRating || score > reputation.MaxRating {
		return fmt.Errorf("%w: rating %d not in [%d,%d]", ErrOutOfRange, score, reputation.MinRating, reputation.MaxRating)
	}
	job, err := c.load(id)
	if err != nil {
		return err
	}
	if !job.HasFreelancer() {
		return fmt.Errorf("%w: job has no freelancer to rate", ErrInvalidState)
	}
	if caller != job.Employer {
		return fmt.Errorf("%w: only the employer rates", ErrUnauthorized)
	}
	rating := &reputation.JobRating{
		JobID:      job.ID,
		Employer:   job.Employer,
		Freelancer: job.Freelancer,
		Rating:     score,
		Feedback:   feedback,
		RatedAt:    c.now,
	}
	rep, err := c.ledger.Record(rating)
	if err != nil {
		return err
	}
	c.result.Job = job
	c.result.Rating = rating
	c.result.Reputation = rep
	c.events = append(c.events, reputation.RatedEvent{Rating: rating, Reputation: rep})
	observability.Jobs().RecordRating(score)
	return nil
}

// Job returns the committed posting.
func (e *Engine) Job(id [32]byte) (*JobPosting, error) {
	var job *JobPosting
	err := e.view(func(tx *state.Tx) error {
		var err error
		job, err = NewStore(tx).Get(id)
		return err
	})
	return job, err
}

// JobsByEmployer returns every posting created by employer.
func (e *Engine) JobsByEmployer(employer [20]byte) ([]*JobPosting, error) {
	var out []*JobPosting
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = NewStore(tx).JobsByEmployer(employer)
		return err
	})
	return out, err
}

// Escrow returns the custody account of the job.
func (e *Engine) Escrow(id [32]byte) (*escrow.Account, error) {
	var acc *escrow.Account
	err := e.view(func(tx *state.Tx) error {
		var err error
		acc, err = escrow.NewCustodian(tx).Account(id)
		if errors.Is(err, escrow.ErrAccountNotFound) {
			return fmt.Errorf("%w: escrow for job %x", ErrNotFound, id)
		}
		return err
	})
	return acc, err
}

// Rating returns the rating recorded for the job.
func (e *Engine) Rating(id [32]byte) (*reputation.JobRating, error) {
	var rating *reputation.JobRating
	err := e.view(func(tx *state.Tx) error {
		var err error
		rating, err = reputation.NewLedger(tx).Rating(id)
		if errors.Is(err, reputation.ErrRatingNotFound) {
			return fmt.Errorf("%w: rating for job %x", ErrNotFound, id)
		}
		return err
	})
	return rating, err
}

// Reputation returns the aggregate rating of the freelancer.
func (e *Engine) Reputation(freelancer [20]byte) (reputation.Reputation, error) {
	var rep reputation.Reputation
	err := e.view(func(tx *state.Tx) error {
		var err error
		rep, err = reputation.NewLedger(tx).Reputation(freelancer)
		return err
	})
	return rep, err
}

// RatingsFor returns the ratings received by the freelancer, oldest first.
func (e *Engine) RatingsFor(freelancer [20]byte) ([]*reputation.JobRating, error) {
	var out []*reputation.JobRating
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = reputation.NewLedger(tx).RatingsFor(freelancer)
		return err
	})
	return out, err
}

// RatingsBetween returns the ratings employer left for freelancer.
func (e *Engine) RatingsBetween(employer, freelancer [20]byte) ([]*reputation.JobRating, error) {
	var out []*reputation.JobRating
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = reputation.NewLedger(tx).RatingsBetween(employer, freelancer)
		return err
	})
	return out, err
}

// Balance returns the spendable balance of addr.
func (e *Engine) Balance(addr [20]byte) (*big.Int, error) {
	var bal *big.Int
	err := e.view(func(tx *state.Tx) error {
		var err error
		bal, err = tx.Balance(addr)
		return err
	})
	return bal, err
}

// NextNonce returns the nonce the signer's next envelope must carry at least.
func (e *Engine) NextNonce(addr [20]byte) (uint64, error) {
	var last uint64
	err := e.view(func(tx *state.Tx) error {
		var err error
		last, err = NewStore(tx).LastNonce(addr)
		return err
	})
	return last + 1, err
}

func (e *Engine) view(fn func(*state.Tx) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.View(fn)
}

// Post creates and funds a job on behalf of employer.
func (e *Engine) Post(ctx context.Context, employer [20]byte, cmd PostJob) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, employer, cmd))
}

// Accept assigns caller as the freelancer of a posted job.
func (e *Engine) Accept(ctx context.Context, caller [20]byte, id [32]byte) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, AcceptJob{JobID: id}))
}

// CompleteMilestone pays out milestone index to the freelancer.
func (e *Engine) CompleteMilestone(ctx context.Context, caller [20]byte, id [32]byte, index uint32) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, CompleteMilestone{JobID: id, Index: index}))
}

// ConfirmCompletion settles the remaining escrow to the freelancer. expected
// may be nil.
func (e *Engine) ConfirmCompletion(ctx context.Context, caller [20]byte, id [32]byte, expected *big.Int) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, ConfirmCompletion{JobID: id, ExpectedTotal: expected}))
}

// Cancel refunds the remaining escrow to the employer.
func (e *Engine) Cancel(ctx context.Context, caller [20]byte, id [32]byte) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, CancelJob{JobID: id}))
}

// Dispute freezes the job.
func (e *Engine) Dispute(ctx context.Context, caller [20]byte, id [32]byte, reason string) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, DisputeJob{JobID: id, Reason: reason}))
}

// Expire cancels an unaccepted posting past its expiration.
func (e *Engine) Expire(ctx context.Context, caller [20]byte, id [32]byte) (*JobPosting, error) {
	return jobOf(e.Execute(ctx, caller, ExpireJob{JobID: id}))
}

// Rate records the employer's rating of the job's freelancer.
func (e *Engine) Rate(ctx context.Context, caller [20]byte, id [32]byte, rating uint8, feedback string) (*reputation.JobRating, error) {
	res, err := e.Execute(ctx, caller, RateJob{JobID: id, Rating: rating, Feedback: feedback})
	if err != nil {
		return nil, err
	}
	return res.Rating, nil
}

func jobOf(res *Result, err error) (*JobPosting, error) {
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}
