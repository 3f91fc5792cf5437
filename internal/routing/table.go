// Package routing turns a validated config into the routing table the
// engine dispatches events through: one destination instance per configured
// destination, each with its compiled subscriptions.
package routing

import (
	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
)

// Route is a destination instance and the enabled subscriptions feeding it.
type Route struct {
	Instance      *destination.Instance
	Subscriptions []*destination.Subscription
}

// Table holds the routes in config order.
// It is immutable once built; hot-reload builds a new Table and swaps atomically.
type Table struct {
	routes []*Route
	byID   map[string]*Route
}

// NewTable allocates an empty Table.
func NewTable() *Table {
	return &Table{byID: make(map[string]*Route)}
}

// AddRoute registers a route under its instance ID.
func (t *Table) AddRoute(r *Route) {
	t.routes = append(t.routes, r)
	t.byID[r.Instance.ID()] = r
}

// Routes returns all routes in config order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Route returns a route by destination ID (nil if not found).
func (t *Table) Route(id string) *Route {
	return t.byID[id]
}

// SubscriptionCount returns the number of enabled subscriptions.
func (t *Table) SubscriptionCount() int {
	n := 0
	for _, r := range t.routes {
		n += len(r.Subscriptions)
	}
	return n
}

// Match is a subscription that an event would trigger.
type Match struct {
	Destination  string
	Subscription *destination.Subscription
}

// Match evaluates every subscription against data without executing
// anything.
func (t *Table) Match(data map[string]any) []Match {
	var out []Match
	for _, r := range t.routes {
		for _, s := range r.Subscriptions {
			if s.Matches(data) {
				out = append(out, Match{Destination: r.Instance.ID(), Subscription: s})
			}
		}
	}
	return out
}
