// Package mutation runs optimistic state changes: apply locally, confirm
// remotely, then reconcile or roll back.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTimeout bounds the remote call when Config.Timeout is unset.
const DefaultTimeout = 15 * time.Second

const tempPrefix = "temp-"

// State is the lifecycle position of one mutation request.
type State int

// Request states. Reconciled and RolledBack are terminal.
const (
	StatePending State = iota
	StateOptimistic
	StateReconciled
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOptimistic:
		return "optimistic"
	case StateReconciled:
		return "reconciled"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is an in-flight optimistic operation. It is never persisted.
type Request struct {
	ID        string
	Entity    string
	State     State
	StartedAt time.Time
}

// Options carries the per-call metadata of Execute.
type Options[T any] struct {
	// Entity labels metrics and default messages, e.g. "leads".
	Entity string
	// TempID identifies the request; a fresh NewTempID is used when empty.
	TempID string
	// PrincipalID scopes the notification to the session that started it.
	PrincipalID    string
	SuccessMessage string
	ErrorMessage   string
	OnSuccess      func(T)
	OnError        func(error)
}

// Config collects dependencies required to build an Executor.
type Config struct {
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *Metrics
	// Timeout bounds every remote call.
	Timeout time.Duration
	Now     func() time.Time
}

// Executor orchestrates optimistic mutations. It holds no reference to the
// collections it mutates and imposes no ordering between concurrent calls.
type Executor struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]*Request
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		notifier: notifier,
		logger:   logger,
		metrics:  cfg.Metrics,
		timeout:  timeout,
		now:      now,
		inFlight: make(map[string]*Request),
	}
}

// Timeout returns the bound applied to remote calls.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// InFlight returns copies of the requests whose remote call has not settled.
func (e *Executor) InFlight() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Request, 0, len(e.inFlight))
	for _, req := range e.inFlight {
		out = append(out, *req)
	}
	return out
}

// Execute applies a mutation optimistically, confirms it with perform and
// either keeps the result or calls rollback.
//
// apply runs before perform. When it fails, neither perform nor rollback runs
// and its error is returned as is. perform is responsible for swapping any
// temporary id for the authoritative one. On a perform failure rollback runs
// synchronously and the original error is returned unwrapped. A panic in
// perform also rolls back before it propagates.
func Execute[T any](ctx context.Context, e *Executor, apply func() error, perform func(context.Context) (T, error), rollback func(), opts Options[T]) (T, error) {
	var zero T
	req := &Request{ID: opts.TempID, Entity: opts.Entity, State: StatePending, StartedAt: e.now()}
	if req.ID == "" {
		req.ID = NewTempID()
	}

	if apply != nil {
		if err := apply(); err != nil {
			e.metrics.applyFailed(opts.Entity)
			e.logger.Debug("optimistic apply failed", slog.String("request", req.ID), slog.Any("error", err))
			return zero, err
		}
	}
	e.begin(req)
	e.metrics.started()

	settled := false
	defer func() {
		if settled {
			return
		}
		r := recover()
		if rollback != nil {
			rollback()
		}
		e.finish(req, StateRolledBack)
		e.metrics.settled(opts.Entity, outcomeRolledBack, e.now().Sub(req.StartedAt))
		e.logger.Error("mutation aborted", slog.String("request", req.ID), slog.Any("panic", r))
		if r != nil {
			panic(r)
		}
	}()

	remoteCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	result, err := perform(remoteCtx)
	settled = true
	elapsed := e.now().Sub(req.StartedAt)

	if err != nil {
		if rollback != nil {
			rollback()
		}
		e.finish(req, StateRolledBack)
		e.metrics.settled(opts.Entity, outcomeRolledBack, elapsed)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		e.notifier.Notify(ctx, Notification{
			Kind:        KindError,
			PrincipalID: opts.PrincipalID,
			Entity:      opts.Entity,
			Message:     errorMessage(opts.Entity, opts.ErrorMessage),
			Detail:      err.Error(),
			Retryable:   IsRetryable(err),
			At:          e.now().UTC(),
		})
		return zero, err
	}

	e.finish(req, StateReconciled)
	e.metrics.settled(opts.Entity, outcomeReconciled, elapsed)
	if opts.OnSuccess != nil {
		opts.OnSuccess(result)
	}
	e.notifier.Notify(ctx, Notification{
		Kind:        KindSuccess,
		PrincipalID: opts.PrincipalID,
		Entity:      opts.Entity,
		Message:     successMessage(opts.Entity, opts.SuccessMessage),
		At:          e.now().UTC(),
	})
	return result, nil
}

func (e *Executor) begin(req *Request) {
	req.State = StateOptimistic
	e.mu.Lock()
	e.inFlight[req.ID] = req
	e.mu.Unlock()
}

func (e *Executor) finish(req *Request, state State) {
	e.mu.Lock()
	req.State = state
	// Same-id requests may overlap; only drop the entry this call owns.
	if cur, ok := e.inFlight[req.ID]; ok && cur == req {
		delete(e.inFlight, req.ID)
	}
	e.mu.Unlock()
	e.logger.Debug("mutation settled",
		slog.String("request", req.ID),
		slog.String("entity", req.Entity),
		slog.String("state", state.String()))
}

// NewTempID returns a locally unique placeholder id for an entity that the
// remote store has not assigned an id to yet.
func NewTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

func successMessage(entity, msg string) string {
	if msg != "" {
		return msg
	}
	return label(entity) + " saved"
}

func errorMessage(entity, msg string) string {
	if msg != "" {
		return msg
	}
	return label(entity) + " could not be saved"
}

func label(entity string) string {
	entity = strings.TrimSpace(strings.ReplaceAll(entity, "_", " "))
	if entity == "" {
		return "Changes"
	}
	return cases.Title(language.English).String(entity)
}
