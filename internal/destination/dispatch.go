package destination

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/actionkit/internal/fql"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
	"github.com/gyaneshwarpardhi/actionkit/internal/metrics"
)

// Status is the outcome of one action execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInvalid Status = "invalid"
)

// Result records one action execution for one subscription.
type Result struct {
	Destination    string `json:"destination"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Action         string `json:"action"`
	Status         Status `json:"status"`
	Attempts       int    `json:"attempts"`
	Events         int    `json:"events"`
	Rejected       int    `json:"rejected,omitempty"`
	Output         any    `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}

func (r *Result) succeed(out any) {
	r.Status = StatusSuccess
	r.Output = out
}

func (r *Result) fail(err error) {
	r.Status = StatusError
	var pe *PayloadValidationError
	if errors.As(err, &pe) {
		r.Status = StatusInvalid
	}
	r.Error = err.Error()
	r.Code = ErrorCode(err)
	r.HTTPStatus = errorStatus(err)
}

// Subscription binds a compiled FQL query to an action and its mapping.
type Subscription struct {
	ID        string
	Name      string
	Action    string
	Query     string
	Subscribe fql.Expr
	Mapping   *mapping.Mapping
}

// Matches reports whether data satisfies the subscription's query.
func (s *Subscription) Matches(data map[string]any) bool {
	return s.Subscribe != nil && fql.Evaluate(s.Subscribe, data)
}

// OnEvent executes every subscription whose query matches data. Matched
// subscriptions run concurrently; one failing never stops the others.
// Results are in subscription order.
func (i *Instance) OnEvent(ctx context.Context, data map[string]any, subs []*Subscription) []*Result {
	matched := i.match(data, subs)
	results := make([]*Result, len(matched))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, s := range matched {
		g.Go(func() error {
			res, err := i.ExecuteAction(ctx, s.Action, ExecuteInput{Event: data, Mapping: s.Mapping, SubscriptionID: s.ID})
			i.record(res, err)
			results[idx] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OnBatch executes subscriptions for a batch of events. Actions with a
// PerformBatch receive all of a subscription's matching events in one call;
// the rest run once per matching event.
func (i *Instance) OnBatch(ctx context.Context, events []map[string]any, subs []*Subscription) []*Result {
	var groups [][]*Result
	var g errgroup.Group
	g.SetLimit(i.concurrency)

	for _, s := range subs {
		var matched []map[string]any
		for _, ev := range events {
			if s.Matches(ev) {
				matched = append(matched, ev)
			}
		}
		if len(matched) == 0 {
			continue
		}
		metrics.SubscriptionsMatched.WithLabelValues(i.id, s.ID).Add(float64(len(matched)))

		a, ok := i.def.Action(s.Action)
		if ok && a.PerformBatch != nil {
			out := make([]*Result, 1)
			groups = append(groups, out)
			g.Go(func() error {
				res, err := i.ExecuteBatch(ctx, s.Action, ExecuteBatchInput{Events: matched, Mapping: s.Mapping, SubscriptionID: s.ID})
				i.record(res, err)
				out[0] = res
				return nil
			})
			continue
		}

		out := make([]*Result, len(matched))
		groups = append(groups, out)
		for idx, ev := range matched {
			g.Go(func() error {
				res, err := i.ExecuteAction(ctx, s.Action, ExecuteInput{Event: ev, Mapping: s.Mapping, SubscriptionID: s.ID})
				i.record(res, err)
				out[idx] = res
				return nil
			})
		}
	}
	_ = g.Wait()

	var results []*Result
	for _, out := range groups {
		results = append(results, out...)
	}
	return results
}

func (i *Instance) match(data map[string]any, subs []*Subscription) []*Subscription {
	var matched []*Subscription
	for _, s := range subs {
		if s.Matches(data) {
			matched = append(matched, s)
			metrics.SubscriptionsMatched.WithLabelValues(i.id, s.ID).Inc()
		}
	}
	return matched
}

func (i *Instance) record(res *Result, err error) {
	metrics.ActionsExecuted.WithLabelValues(i.id, res.Action, string(res.Status)).Inc()
	if err != nil {
		i.logger.Warn("action failed",
			"subscription", res.SubscriptionID,
			"action", res.Action,
			"code", res.Code,
			"attempts", res.Attempts,
			"err", err,
		)
		return
	}
	i.logger.Debug("action executed", "subscription", res.SubscriptionID, "action", res.Action, "attempts", res.Attempts)
}
