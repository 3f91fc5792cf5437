package destination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
	"github.com/gyaneshwarpardhi/actionkit/internal/metrics"
	"github.com/gyaneshwarpardhi/actionkit/internal/request"
	"github.com/gyaneshwarpardhi/actionkit/internal/retry"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultConcurrency     = 8
)

// InstanceOptions tunes how an Instance talks to its partner.
type InstanceOptions struct {
	// ID names the instance in logs and metrics. Defaults to the slug.
	ID string
	// Client is the base request client. Nil means request.New with no defaults.
	Client *request.Client
	Logger *slog.Logger

	// Retries is the total attempts per action. Zero means retry.DefaultRetries.
	Retries int
	// Backoff builds a fresh policy for each action call. Nil means no delay.
	Backoff func() backoff.BackOff

	// RateLimit caps partner calls per second. Zero means unlimited.
	RateLimit float64
	RateBurst int

	// BreakerFailures is how many consecutive retryable failures open the
	// circuit; BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// Concurrency bounds how many subscriptions run at once per event.
	Concurrency int
}

// Instance is a Definition bound to one set of settings.
// It is safe for concurrent use.
type Instance struct {
	id          string
	def         *Definition
	settings    map[string]any
	client      *request.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
	retries     int
	backoff     func() backoff.BackOff
	concurrency int
}

// ExecuteInput is what ExecuteAction resolves a payload from.
type ExecuteInput struct {
	Event map[string]any
	// Mapping resolves the payload from Event. Nil uses Event itself.
	Mapping        *mapping.Mapping
	SubscriptionID string
}

// ExecuteBatchInput is what ExecuteBatch resolves payloads from.
type ExecuteBatchInput struct {
	Events         []map[string]any
	Mapping        *mapping.Mapping
	SubscriptionID string
}

// NewInstance validates settings against the definition and builds the
// instance's request client, rate limiter and circuit breaker.
func NewInstance(def *Definition, settings map[string]any, opts InstanceOptions) (*Instance, error) {
	if err := def.prepare(); err != nil {
		return nil, err
	}
	id := opts.ID
	if id == "" {
		id = def.Slug
	}
	if settings == nil {
		settings = map[string]any{}
	}
	normalized, err := normalize(settings)
	if err != nil {
		return nil, errkind.Configf("destination "+id, "settings: %v", err)
	}
	if err := def.settingsSchema.Validate(normalized); err != nil {
		return nil, errkind.Configf("destination "+id, "invalid settings: %v", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("destination", id)

	inst := &Instance{
		id:          id,
		def:         def,
		settings:    normalized,
		logger:      logger,
		retries:     opts.Retries,
		backoff:     opts.Backoff,
		concurrency: opts.Concurrency,
	}
	if inst.concurrency <= 0 {
		inst.concurrency = defaultConcurrency
	}
	inst.client = inst.buildClient(opts.Client)
	inst.limiter = newLimiter(opts.RateLimit, opts.RateBurst)
	inst.breaker = inst.newBreaker(opts.BreakerFailures, opts.BreakerTimeout)
	return inst, nil
}

func (i *Instance) buildClient(base *request.Client) *request.Client {
	if base == nil {
		base = request.New(request.Options{})
	}
	var extend request.Options
	if i.def.ExtendRequest != nil {
		extend = i.def.ExtendRequest(i.settings)
	}
	hooks := request.Hooks{
		AfterResponse: []request.AfterResponseHook{
			request.ObserveResponses(i.id),
			request.LogResponses(i.logger),
		},
	}
	if i.def.Authentication.Scheme == AuthBasic {
		if extend.Username == "" {
			extend.Username, _ = i.settings["username"].(string)
		}
		if extend.Password == "" {
			extend.Password, _ = i.settings["password"].(string)
		}
		hooks.BeforeRequest = append(hooks.BeforeRequest, request.BasicAuth)
	}
	return base.Extend(extend, hooks)
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (i *Instance) newBreaker(failures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	metrics.BreakerState.WithLabelValues(i.id).Set(float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    i.id,
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// Partner-side rejections say nothing about the partner's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !request.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			i.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
}

// ID returns the instance's name.
func (i *Instance) ID() string { return i.id }

// Definition returns the bound definition.
func (i *Instance) Definition() *Definition { return i.def }

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (i *Instance) BreakerState() string { return i.breaker.State().String() }

// ExecuteAction resolves and validates the payload for action, then performs
// it under the instance's retry policy. The returned Result is never nil.
func (i *Instance) ExecuteAction(ctx context.Context, action string, in ExecuteInput) (*Result, error) {
	start := time.Now()
	res := &Result{Destination: i.id, SubscriptionID: in.SubscriptionID, Action: action, Events: 1}
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	a, ok := i.def.Action(action)
	if !ok {
		err := errkind.Configf("destination "+i.id, "unknown action %q", action)
		res.fail(err)
		return res, err
	}
	payload, err := i.resolvePayload(a, action, in.Mapping, in.Event)
	if err != nil {
		res.fail(err)
		return res, err
	}

	perform := func(ctx context.Context) (any, error) {
		if a.Perform == nil {
			return a.PerformBatch(ctx, i.client, BatchInput{
				Settings: i.settings,
				Payloads: []map[string]any{payload},
				Events:   []map[string]any{in.Event},
			})
		}
		return a.Perform(ctx, i.client, PerformInput{Settings: i.settings, Payload: payload, Event: in.Event})
	}
	out, attempts, err := i.perform(ctx, action, perform)
	res.Attempts = attempts
	if err != nil {
		res.fail(err)
		return res, err
	}
	res.succeed(out)
	return res, nil
}

// ExecuteBatch resolves one payload per event and performs the action's
// PerformBatch once. Events whose payload fails validation are left out
// and counted as rejected.
func (i *Instance) ExecuteBatch(ctx context.Context, action string, in ExecuteBatchInput) (*Result, error) {
	start := time.Now()
	res := &Result{Destination: i.id, SubscriptionID: in.SubscriptionID, Action: action, Events: len(in.Events)}
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	a, ok := i.def.Action(action)
	if !ok {
		err := errkind.Configf("destination "+i.id, "unknown action %q", action)
		res.fail(err)
		return res, err
	}
	if a.PerformBatch == nil {
		err := fmt.Errorf("destination %s: action %s does not support batching", i.id, action)
		res.fail(err)
		return res, err
	}

	payloads := make([]map[string]any, 0, len(in.Events))
	events := make([]map[string]any, 0, len(in.Events))
	var firstInvalid error
	for _, ev := range in.Events {
		p, err := i.resolvePayload(a, action, in.Mapping, ev)
		if err != nil {
			res.Rejected++
			if firstInvalid == nil {
				firstInvalid = err
			}
			i.logger.Debug("batch payload rejected", "action", action, "err", err)
			continue
		}
		payloads = append(payloads, p)
		events = append(events, ev)
	}
	if len(payloads) == 0 {
		if firstInvalid == nil {
			firstInvalid = &PayloadValidationError{Action: action, Err: errors.New("empty batch")}
		}
		res.fail(firstInvalid)
		return res, firstInvalid
	}

	out, attempts, err := i.perform(ctx, action, func(ctx context.Context) (any, error) {
		return a.PerformBatch(ctx, i.client, BatchInput{Settings: i.settings, Payloads: payloads, Events: events})
	})
	res.Attempts = attempts
	if err != nil {
		res.fail(err)
		return res, err
	}
	res.succeed(out)
	return res, nil
}

// TestAuthentication checks the instance's settings against the partner.
// Definitions without a check always pass.
func (i *Instance) TestAuthentication(ctx context.Context) error {
	check := i.def.Authentication.TestAuthentication
	if check == nil {
		return nil
	}
	err := check(ctx, i.client, i.settings)
	if err == nil || errors.Is(err, ErrInvalidAuthentication) {
		return err
	}
	var he *request.HTTPError
	if errors.As(err, &he) && (he.Response.Status == http.StatusUnauthorized || he.Response.Status == http.StatusForbidden) {
		return fmt.Errorf("%w: %v", ErrInvalidAuthentication, err)
	}
	return fmt.Errorf("test authentication: %w", err)
}

// resolvePayload maps event data to an action payload, fills defaults and
// validates it against the action's schema.
func (i *Instance) resolvePayload(a *ActionDefinition, action string, m *mapping.Mapping, data map[string]any) (map[string]any, error) {
	var payload map[string]any
	if m != nil {
		payload = maps.Clone(m.ApplyObject(data))
	} else {
		payload = maps.Clone(data)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload = a.withDefaults(payload, data)

	normalized, err := normalize(payload)
	if err != nil {
		return nil, &PayloadValidationError{Action: action, Err: err}
	}
	if err := a.schema.Validate(normalized); err != nil {
		return nil, &PayloadValidationError{Action: action, Err: err}
	}
	return normalized, nil
}

// perform runs fn through the rate limiter and circuit breaker, retrying
// retryable failures.
func (i *Instance) perform(ctx context.Context, action string, fn func(context.Context) (any, error)) (any, int, error) {
	attempts := 0
	opts := retry.Options[any]{
		Retries: i.retries,
		OnFailedAttempt: func(err error, attempt int) error {
			if !request.IsRetryable(err) {
				return err
			}
			i.logger.Warn("action attempt failed", "action", action, "attempt", attempt, "err", err)
			return nil
		},
	}
	if i.backoff != nil {
		opts.Backoff = i.backoff()
	}
	out, err := retry.Do(ctx, func(ctx context.Context, attempt int) (any, error) {
		attempts = attempt
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		return i.breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
	}, opts)
	return out, attempts, err
}

// normalize round-trips v through JSON so validation and actions see plain
// JSON types regardless of where the values came from.
func normalize(v map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
