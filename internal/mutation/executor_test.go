package mutation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return "remote: 503" }
func (e retryableErr) Retryable() bool { return e.retry }

func newTestExecutor(notifier Notifier, metrics *Metrics) *Executor {
	return NewExecutor(Config{
		Notifier: notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics,
		Timeout:  200 * time.Millisecond,
	})
}

func TestExecuteSuccessKeepsOptimisticStateAndNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, nil)

	var state []string
	var applied, rolledBack int
	var succeeded string

	result, err := Execute(context.Background(), exec,
		func() error {
			applied++
			state = append(state, "temp-1")
			return nil
		},
		func(ctx context.Context) (string, error) {
			state[0] = "lead-1"
			return "lead-1", nil
		},
		func() { rolledBack++ },
		Options[string]{
			Entity:         "leads",
			SuccessMessage: "Lead created",
			OnSuccess:      func(id string) { succeeded = id },
		})

	require.NoError(t, err)
	assert.Equal(t, "lead-1", result)
	assert.Equal(t, []string{"lead-1"}, state)
	assert.Equal(t, 1, applied)
	assert.Zero(t, rolledBack)
	assert.Equal(t, "lead-1", succeeded)
	assert.Empty(t, exec.InFlight())

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, KindSuccess, sent[0].Kind)
	assert.Equal(t, "Lead created", sent[0].Message)
}

func TestExecuteApplyFailureSkipsRemoteAndRollback(t *testing.T) {
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, nil)
	applyErr := errors.New("duplicate id")
	performed, rolledBack := 0, 0

	_, err := Execute(context.Background(), exec,
		func() error { return applyErr },
		func(ctx context.Context) (int, error) {
			performed++
			return 1, nil
		},
		func() { rolledBack++ },
		Options[int]{Entity: "tasks"})

	assert.True(t, err == applyErr)
	assert.Zero(t, performed)
	assert.Zero(t, rolledBack)
	assert.Empty(t, notifier.all())
}

func TestExecuteApplyPanicPropagates(t *testing.T) {
	exec := newTestExecutor(&recordingNotifier{}, nil)
	performed := false
	assert.PanicsWithValue(t, "boom", func() {
		_, _ = Execute(context.Background(), exec,
			func() error { panic("boom") },
			func(ctx context.Context) (int, error) {
				performed = true
				return 0, nil
			},
			nil, Options[int]{})
	})
	assert.False(t, performed)
}

func TestExecuteRemoteFailureRollsBackAndReturnsOriginalError(t *testing.T) {
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, nil)
	remoteErr := retryableErr{retry: true}

	items := map[string]string{"c-1": "Acme"}
	var onError error

	_, err := Execute(context.Background(), exec,
		func() error {
			items["c-1"] = "Acme Corp"
			return nil
		},
		func(ctx context.Context) (string, error) { return "", remoteErr },
		func() { items["c-1"] = "Acme" },
		Options[string]{
			Entity:       "customers",
			ErrorMessage: "Failed to update customer",
			OnError:      func(err error) { onError = err },
		})

	require.Error(t, err)
	assert.Equal(t, error(remoteErr), err)
	assert.Equal(t, error(remoteErr), onError)
	assert.Equal(t, map[string]string{"c-1": "Acme"}, items)

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, KindError, sent[0].Kind)
	assert.Equal(t, "Failed to update customer", sent[0].Message)
	assert.Equal(t, "remote: 503", sent[0].Detail)
	assert.True(t, sent[0].Retryable)
}

func TestExecuteBoundsRemoteCall(t *testing.T) {
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, nil)
	rolledBack := false

	_, err := Execute(context.Background(), exec,
		nil,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		func() { rolledBack = true },
		Options[int]{Entity: "jobs"})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, rolledBack)
	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Retryable)
	assert.Equal(t, "Jobs could not be saved", sent[0].Message)
}

func TestExecuteDoesNotSerialiseConcurrentCalls(t *testing.T) {
	exec := newTestExecutor(&recordingNotifier{}, nil)
	release := make(chan struct{})
	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)
		_, _ = Execute(context.Background(), exec, nil,
			func(ctx context.Context) (int, error) {
				<-release
				return 1, nil
			}, nil, Options[int]{Entity: "leads", TempID: "temp-a"})
	}()

	require.Eventually(t, func() bool { return len(exec.InFlight()) == 1 }, timeout, tick)

	got, err := Execute(context.Background(), exec, nil,
		func(ctx context.Context) (int, error) { return 2, nil },
		nil, Options[int]{Entity: "leads", TempID: "temp-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	inFlight := exec.InFlight()
	require.Len(t, inFlight, 1)
	assert.Equal(t, "temp-a", inFlight[0].ID)
	assert.Equal(t, StateOptimistic, inFlight[0].State)

	close(release)
	<-firstDone
	assert.Empty(t, exec.InFlight())
}

func TestExecuteCountsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	exec := newTestExecutor(&recordingNotifier{}, NewMetrics(registry))

	_, _ = Execute(context.Background(), exec, nil,
		func(ctx context.Context) (int, error) { return 1, nil }, nil, Options[int]{Entity: "leads"})
	_, _ = Execute(context.Background(), exec, nil,
		func(ctx context.Context) (int, error) { return 0, errors.New("500") }, nil, Options[int]{Entity: "leads"})
	_, _ = Execute(context.Background(), exec,
		func() error { return errors.New("bad") },
		func(ctx context.Context) (int, error) { return 0, nil }, nil, Options[int]{Entity: "leads"})

	families, err := registry.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "odyssey_crm_mutations_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"reconciled": 1, "rolled_back": 1, "apply_failed": 1}, outcomes)
}

func TestExecutePanicRollsBackAndSettles(t *testing.T) {
	registry := prometheus.NewRegistry()
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, NewMetrics(registry))

	state := []string{}
	rolledBack := false
	assert.PanicsWithValue(t, "boom", func() {
		_, _ = Execute(context.Background(), exec,
			func() error {
				state = append(state, "temp-1")
				return nil
			},
			func(ctx context.Context) (int, error) { panic("boom") },
			func() {
				rolledBack = true
				state = state[:0]
			},
			Options[int]{Entity: "leads", TempID: "temp-1"})
	})

	assert.True(t, rolledBack)
	assert.Empty(t, state)
	assert.Empty(t, exec.InFlight())
	assert.Empty(t, notifier.all())

	families, err := registry.Gather()
	require.NoError(t, err)
	var inFlight, rolled float64 = -1, 0
	for _, family := range families {
		switch family.GetName() {
		case "odyssey_crm_mutations_in_flight":
			inFlight = family.GetMetric()[0].GetGauge().GetValue()
		case "odyssey_crm_mutations_total":
			for _, m := range family.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "outcome" && l.GetValue() == "rolled_back" {
						rolled = m.GetCounter().GetValue()
					}
				}
			}
		}
	}
	assert.Zero(t, inFlight)
	assert.Equal(t, float64(1), rolled)
}

func TestExecuteNotificationCarriesPrincipal(t *testing.T) {
	notifier := &recordingNotifier{}
	exec := newTestExecutor(notifier, nil)

	_, err := Execute(context.Background(), exec, nil,
		func(ctx context.Context) (int, error) { return 0, errors.New("502") }, nil,
		Options[int]{Entity: "customers", PrincipalID: "u-7"})
	require.Error(t, err)

	notes := notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "u-7", notes[0].PrincipalID)
}

func TestNewTempID(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	assert.True(t, IsTempID(a))
	assert.NotEqual(t, a, b)
	assert.False(t, IsTempID("8c1f0d1e"))
}

func TestDefaultMessages(t *testing.T) {
	assert.Equal(t, "Leads saved", successMessage("leads", ""))
	assert.Equal(t, "Changes could not be saved", errorMessage("", ""))
	assert.Equal(t, "Lead created", successMessage("leads", "Lead created"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(retryableErr{retry: false}))
	assert.True(t, IsRetryable(errors.Join(errors.New("wrap"), retryableErr{retry: true})))
}
