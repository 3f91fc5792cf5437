package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
	"github.com/gyaneshwarpardhi/actionkit/internal/fql"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
)

// Validate checks the config for:
//   - Duplicate IDs across destinations and subscriptions
//   - Required fields
//   - FQL queries and mapping templates that do not compile
//
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return errkind.Configf("config", "version is required")
	}
	ids := make(map[string]string) // id → location
	var errs []string

	claim := func(id, loc string) {
		if prev, ok := ids[id]; ok {
			errs = append(errs, fmt.Sprintf("duplicate id %q (first seen at %s, again at %s)", id, prev, loc))
			return
		}
		ids[id] = loc
	}

	for i, d := range cfg.Destinations {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("destinations[%d]: id is required", i))
			continue
		}
		loc := fmt.Sprintf("destination %s", d.ID)
		claim(d.ID, loc)
		if d.Destination == "" {
			errs = append(errs, fmt.Sprintf("%s: destination is required", loc))
		}
		if d.Retries < 0 {
			errs = append(errs, fmt.Sprintf("%s: retries must not be negative", loc))
		}
		if d.RateLimit < 0 {
			errs = append(errs, fmt.Sprintf("%s: rate_limit must not be negative", loc))
		}
		for j, s := range d.Subscriptions {
			validateSubscription(s, fmt.Sprintf("%s.subscriptions[%d]", loc, j), claim, &errs)
		}
	}

	if len(errs) > 0 {
		return errkind.Configf("config", "validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateSubscription(s SubscriptionConf, parent string, claim func(id, loc string), errs *[]string) {
	if s.ID == "" {
		*errs = append(*errs, fmt.Sprintf("%s: id is required", parent))
		return
	}
	loc := fmt.Sprintf("subscription %s", s.ID)
	claim(s.ID, loc)
	if s.PartnerAction == "" {
		*errs = append(*errs, fmt.Sprintf("%s: partner_action is required", loc))
	}
	if s.Subscribe == "" {
		*errs = append(*errs, fmt.Sprintf("%s: subscribe is required", loc))
	} else if _, err := fql.Parse(s.Subscribe); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: subscribe: %v", loc, err))
	}
	if s.Mapping != nil {
		if err := mapping.Validate(s.Mapping); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: mapping: %v", loc, err))
		}
	}
}
