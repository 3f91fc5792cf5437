package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/actionkit/internal/config"
	"github.com/gyaneshwarpardhi/actionkit/internal/destination"
	"github.com/gyaneshwarpardhi/actionkit/internal/engine"
	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
	"github.com/gyaneshwarpardhi/actionkit/internal/event"
	"github.com/gyaneshwarpardhi/actionkit/internal/fql"
	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng     *engine.Engine
	loader  *config.Loader
	queries *fql.Cache
	logger  *slog.Logger
}

// New creates an HTTP handler and registers all routes. Ingest limits are
// read from the loader's config at startup.
func New(eng *engine.Engine, loader *config.Loader, queries *fql.Cache, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{eng: eng, loader: loader, queries: queries, logger: logger}

	var ingest *rate.Limiter
	if ec := loader.Config().Engine; ec.IngestRateLimit > 0 {
		ingest = rate.NewLimiter(rate.Limit(ec.IngestRateLimit), ec.IngestBurst)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware(ingest))
			r.Post("/events", h.ingestEvent)
			r.Post("/events/batch", h.ingestBatch)
		})
		r.Get("/destinations", h.listDestinations)
		r.Post("/destinations/reload", h.reloadDestinations)
		r.Post("/destinations/{id}/test-authentication", h.testAuthentication)
		r.Post("/transform", h.transform)
		r.Post("/fql/evaluate", h.evaluateFQL)
	})

	return r
}

// accept stamps server-side fields and checks the event.
func accept(ev *event.Event, now time.Time) error {
	if ev.MessageID == "" {
		ev.MessageID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.ReceivedAt = now
	return ev.Validate()
}

// POST /v1/events: synchronous by default, ?async=true only enqueues.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if !decodeBody(w, r, &ev) {
		return
	}
	if err := accept(&ev, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if !h.eng.ProcessAsync(&ev) {
			writeError(w, http.StatusTooManyRequests, "event queue full")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"event_id": ev.MessageID, "queued": true})
		return
	}

	res, err := h.eng.ProcessSync(r.Context(), &ev)
	if err != nil {
		writeError(w, processStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch: async by default, ?wait=true returns the results.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if !decodeBody(w, r, &events) {
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if limit := h.loader.Config().Engine.MaxBatchSize; len(events) > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), limit))
		return
	}

	now := time.Now()
	for i, ev := range events {
		if ev == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: null", i))
			return
		}
		if err := accept(ev, now); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	if r.URL.Query().Get("wait") == "true" {
		res, err := h.eng.ProcessBatch(r.Context(), events)
		if err != nil {
			writeError(w, processStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	jobID, ok := h.eng.ProcessBatchAsync(events)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "batch queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"total":  len(events),
	})
}

func processStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

type subscriptionView struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Action    string `json:"partner_action"`
	Subscribe string `json:"subscribe"`
}

type destinationView struct {
	ID            string             `json:"id"`
	Destination   string             `json:"destination"`
	Breaker       string             `json:"breaker"`
	Actions       []string           `json:"actions"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

// GET /v1/destinations lists the live routing table.
func (h *Handler) listDestinations(w http.ResponseWriter, r *http.Request) {
	tbl := h.eng.Table()
	out := make([]destinationView, 0, len(tbl.Routes()))
	for _, route := range tbl.Routes() {
		inst := route.Instance
		dv := destinationView{
			ID:            inst.ID(),
			Destination:   inst.Definition().Slug,
			Breaker:       inst.BreakerState(),
			Actions:       inst.Definition().ActionNames(),
			Subscriptions: make([]subscriptionView, 0, len(route.Subscriptions)),
		}
		for _, s := range route.Subscriptions {
			dv.Subscriptions = append(dv.Subscriptions, subscriptionView{
				ID: s.ID, Name: s.Name, Action: s.Action, Subscribe: s.Query,
			})
		}
		out = append(out, dv)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      h.loader.Config().Version,
		"destinations": out,
	})
}

// POST /v1/destinations/reload re-reads the config file. The loader's
// change hooks rebuild and swap the routing table.
func (h *Handler) reloadDestinations(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errkind.ErrConfiguration) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":      true,
		"version":       cfg.Version,
		"destinations":  len(h.eng.Table().Routes()),
		"subscriptions": h.eng.Table().SubscriptionCount(),
	})
}

// POST /v1/destinations/{id}/test-authentication checks the destination's
// settings against the partner.
func (h *Handler) testAuthentication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	route := h.eng.Table().Route(id)
	if route == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("destination %q not found", id))
		return
	}
	if err := route.Instance.TestAuthentication(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, destination.ErrInvalidAuthentication) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "ok": true})
}

type transformRequest struct {
	Mapping  any              `json:"mapping"`
	Payload  map[string]any   `json:"payload"`
	Payloads []map[string]any `json:"payloads"`
}

// POST /v1/transform applies a mapping to one payload or, when payloads is
// set, to each of them in order.
func (h *Handler) transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mapping == nil {
		writeError(w, http.StatusBadRequest, "mapping is required")
		return
	}

	if req.Payloads != nil {
		out, err := mapping.TransformBatch(req.Mapping, req.Payloads)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
		return
	}

	out, err := mapping.Transform(req.Mapping, req.Payload)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

type evaluateRequest struct {
	Query string         `json:"query"`
	Event map[string]any `json:"event"`
}

// POST /v1/fql/evaluate reports whether an event satisfies a query.
func (h *Handler) evaluateFQL(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	expr, err := h.parse(req.Query)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   expr.String(),
		"fields":  fql.Fields(expr),
		"matches": fql.Evaluate(expr, req.Event),
	})
}

func (h *Handler) parse(src string) (fql.Expr, error) {
	if h.queries != nil {
		return h.queries.Parse(src)
	}
	return fql.Parse(src)
}

// GET /healthz: always 200 (liveness).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the event queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}
