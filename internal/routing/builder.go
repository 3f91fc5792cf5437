package routing

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/gyaneshwarpardhi/actionkit/internal/config"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
	"github.com/gyaneshwarpardhi/actionkit/internal/fql"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
	"github.com/gyaneshwarpardhi/actionkit/internal/request"
)

// BuildOptions carries the shared dependencies of every instance.
type BuildOptions struct {
	Client  *request.Client
	Logger  *slog.Logger
	Backoff func() backoff.BackOff
	// Queries memoizes FQL parsing across reloads. Nil parses directly.
	Queries *fql.Cache
}

// Build constructs a routing table from a validated Config.
// All queries and mappings are compiled here; none are parsed at dispatch time.
func Build(cfg *config.Config, reg *destination.Registry, opts BuildOptions) (*Table, error) {
	t := NewTable()
	for _, dc := range cfg.Destinations {
		r, err := buildRoute(dc, reg, opts)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", dc.ID, err)
		}
		t.AddRoute(r)
	}
	return t, nil
}

func buildRoute(dc config.DestinationConf, reg *destination.Registry, opts BuildOptions) (*Route, error) {
	def, err := reg.Get(dc.Destination)
	if err != nil {
		return nil, errkind.Configf("destination", "%v", err)
	}

	client := opts.Client
	if client == nil {
		client = request.New(request.Options{})
	}
	if dc.TimeoutMs != 0 {
		client = client.Extend(request.Options{Timeout: time.Duration(dc.TimeoutMs) * time.Millisecond})
	}

	inst, err := destination.NewInstance(def, dc.Settings, destination.InstanceOptions{
		ID:              dc.ID,
		Client:          client,
		Logger:          opts.Logger,
		Retries:         dc.Retries,
		Backoff:         opts.Backoff,
		RateLimit:       dc.RateLimit,
		RateBurst:       dc.RateBurst,
		BreakerFailures: dc.BreakerFailures,
		BreakerTimeout:  time.Duration(dc.BreakerTimeoutMs) * time.Millisecond,
		Concurrency:     dc.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	r := &Route{Instance: inst}
	for _, sc := range dc.Subscriptions {
		if !sc.Enabled {
			continue
		}
		sub, err := buildSubscription(sc, def, opts.Queries)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sc.ID, err)
		}
		r.Subscriptions = append(r.Subscriptions, sub)
	}
	return r, nil
}

func buildSubscription(sc config.SubscriptionConf, def *destination.Definition, queries *fql.Cache) (*destination.Subscription, error) {
	if _, ok := def.Action(sc.PartnerAction); !ok {
		return nil, errkind.Configf("partner_action", "destination %s has no action %q", def.Slug, sc.PartnerAction)
	}

	var (
		expr fql.Expr
		err  error
	)
	if queries != nil {
		expr, err = queries.Parse(sc.Subscribe)
	} else {
		expr, err = fql.Parse(sc.Subscribe)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", sc.Subscribe, err)
	}

	var m *mapping.Mapping
	if sc.Mapping != nil {
		if m, err = mapping.Compile(sc.Mapping); err != nil {
			return nil, fmt.Errorf("mapping: %w", err)
		}
	}

	return &destination.Subscription{
		ID:        sc.ID,
		Name:      sc.Name,
		Action:    sc.PartnerAction,
		Query:     sc.Subscribe,
		Subscribe: expr,
		Mapping:   m,
	}, nil
}
