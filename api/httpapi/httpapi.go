package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	wsadapter "progresskit/adapters/websocket"
	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/insights"
	"progresskit/realtime"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Counter, if set, is served at {prefix}/metrics.
	Counter *analytics.EventCounter
	// TopAchievements caps the achievement ranking in the metrics snapshot. Zero means 10.
	TopAchievements int
	Logger          *slog.Logger
}

type api struct {
	svc     *engine.ProgressService
	counter *analytics.EventCounter
	topN    int
	logger  *slog.Logger
}

// NewMux builds an http.Handler exposing the progress REST API and WebSocket stream.
// Routes (under prefix):
//   - GET  /healthz, /metrics, /leaderboard?limit=10
//   - WS   /ws?user=&types=
//   - POST /insights/sentiment, /insights/auto-tag
//   - POST|GET /users/{id}/entries, GET|PUT|DELETE /users/{id}/entries/{entryID}
//   - GET  /users/{id}/entries/date/{date}
//   - POST /users/{id}/interactions/{kind}
//   - GET|POST /users/{id}/xp, GET /users/{id}/achievements, POST /users/{id}/achievements/check
//   - GET  /users/{id}/analytics/{stats|heatmap|trends|time-distribution|category-breakdown|comparison}
//   - GET  /users/{id}/insights
//   - GET|POST /users/{id}/todos?status=, GET|PUT|DELETE /users/{id}/todos/{todoID}
//   - GET|POST /users/{id}/entries/{entryID}/comments?user=, PUT|DELETE .../comments/{commentID}?user=
//   - GET|POST /users/{id}/entries/{entryID}/reactions?user=, DELETE .../reactions/{type}?user=
func NewMux(svc *engine.ProgressService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, counter: opts.Counter, topN: opts.TopAchievements, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.topN <= 0 {
		a.topN = 10
	}

	r := chi.NewRouter()
	r.Get("/healthz", a.healthCheck)
	if hub != nil {
		r.Handle("/ws", wsadapter.Handler(hub))
	}
	if a.counter != nil {
		r.Get("/metrics", a.metrics)
	}
	r.Get("/leaderboard", a.leaderboard)
	r.Post("/insights/sentiment", a.sentiment)
	r.Post("/insights/auto-tag", a.autoTag)

	r.Route("/users/{id}", func(r chi.Router) {
		r.Post("/entries", a.createEntry)
		r.Get("/entries", a.listEntries)
		r.Get("/entries/date/{date}", a.entriesOn)
		r.Get("/entries/{entryID}", a.getEntry)
		r.Put("/entries/{entryID}", a.updateEntry)
		r.Delete("/entries/{entryID}", a.deleteEntry)

		r.Get("/entries/{entryID}/comments", a.listComments)
		r.Post("/entries/{entryID}/comments", a.addComment)
		r.Put("/entries/{entryID}/comments/{commentID}", a.updateComment)
		r.Delete("/entries/{entryID}/comments/{commentID}", a.deleteComment)
		r.Get("/entries/{entryID}/reactions", a.listReactions)
		r.Post("/entries/{entryID}/reactions", a.addReaction)
		r.Delete("/entries/{entryID}/reactions/{type}", a.removeReaction)

		r.Get("/todos", a.listTodos)
		r.Post("/todos", a.createTodo)
		r.Get("/todos/{todoID}", a.getTodo)
		r.Put("/todos/{todoID}", a.updateTodo)
		r.Delete("/todos/{todoID}", a.deleteTodo)

		r.Post("/interactions/{kind}", a.recordInteraction)

		r.Get("/xp", a.getXP)
		r.Post("/xp", a.awardXP)
		r.Get("/achievements", a.achievements)
		r.Post("/achievements/check", a.checkAchievements)

		r.Get("/analytics/stats", a.stats)
		r.Get("/analytics/heatmap", a.heatmap)
		r.Get("/analytics/trends", a.trends)
		r.Get("/analytics/time-distribution", a.timeDistribution)
		r.Get("/analytics/category-breakdown", a.categoryBreakdown)
		r.Get("/analytics/comparison", a.comparison)
		r.Get("/insights", a.userInsights)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	var handler http.Handler = r
	if p := strings.TrimSuffix(opts.PathPrefix, "/"); p != "" {
		root := chi.NewRouter()
		root.Mount(p, r)
		root.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		})
		handler = root
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

// healthCheck verifies storage answers a read for a placeholder user.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := a.svc.GetState(r.Context(), core.UserID("healthcheck"))
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSONStatus(w, code, status)
}

func (a *api) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.counter.Snapshot(time.Now(), a.topN))
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", 10)
	if !ok {
		return
	}
	if limit <= 0 || limit > 100 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100", nil)
		return
	}
	writeJSON(w, a.svc.Leaderboard(limit))
}

type textRequest struct {
	Text string `json:"text"`
}

func (a *api) sentiment(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, insights.AnalyzeSentiment(req.Text))
}

func (a *api) autoTag(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tags := insights.AutoTag(req.Text)
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, map[string]any{"tags": tags})
}

func userParam(r *http.Request) core.UserID {
	return core.UserID(chi.URLParam(r, "id"))
}

func (a *api) createEntry(w http.ResponseWriter, r *http.Request) {
	var in core.EntryInput
	if !decodeBody(w, r, &in) {
		return
	}
	e, err := a.svc.LogEntry(r.Context(), userParam(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, e)
}

func (a *api) listEntries(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.svc.ListEntries(r.Context(), userParam(r), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, entries)
}

func filterFromQuery(r *http.Request) (core.EntryFilter, error) {
	q := r.URL.Query()
	var f core.EntryFilter
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = core.ParseDate(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = core.ParseDate(v); err != nil {
			return f, err
		}
	}
	f.Tag = strings.ToLower(strings.TrimSpace(q.Get("tag")))
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: limit must be a non-negative integer", core.ErrInvalidInput)
		}
		f.Limit = n
	}
	return f, nil
}

func (a *api) entriesOn(w http.ResponseWriter, r *http.Request) {
	day, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.svc.EntriesOn(r.Context(), userParam(r), day)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, entries)
}

func (a *api) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := a.svc.GetEntry(r.Context(), userParam(r), chi.URLParam(r, "entryID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, e)
}

func (a *api) updateEntry(w http.ResponseWriter, r *http.Request) {
	var p core.EntryPatch
	if !decodeBody(w, r, &p) {
		return
	}
	e, err := a.svc.UpdateEntry(r.Context(), userParam(r), chi.URLParam(r, "entryID"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, e)
}

func (a *api) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteEntry(r.Context(), userParam(r), chi.URLParam(r, "entryID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) recordInteraction(w http.ResponseWriter, r *http.Request) {
	kind := core.InteractionKind(chi.URLParam(r, "kind"))
	count, err := a.svc.RecordInteraction(r.Context(), userParam(r), kind)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"kind": strings.ToLower(string(kind)), "count": count})
}

func (a *api) getXP(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.XP(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (a *api) awardXP(w http.ResponseWriter, r *http.Request) {
	delta, err := strconv.ParseInt(r.URL.Query().Get("delta"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_delta", "delta must be an integer", nil)
		return
	}
	total, err := a.svc.AwardXP(r.Context(), userParam(r), delta)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, core.DescribeLevel(total))
}

func (a *api) achievements(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Achievements(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *api) checkAchievements(w http.ResponseWriter, r *http.Request) {
	unlocked, err := a.svc.CheckAchievements(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if unlocked == nil {
		unlocked = []core.Achievement{}
	}
	writeJSON(w, map[string]any{"unlocked": unlocked})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.Stats(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (a *api) heatmap(w http.ResponseWriter, r *http.Request) {
	year, ok := intQuery(w, r, "year", 0)
	if !ok {
		return
	}
	cells, err := a.svc.Heatmap(r.Context(), userParam(r), year)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, cells)
}

func (a *api) trends(w http.ResponseWriter, r *http.Request) {
	p, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	points, err := a.svc.Trends(r.Context(), userParam(r), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, points)
}

func (a *api) timeDistribution(w http.ResponseWriter, r *http.Request) {
	by, err := analytics.ParseDistribution(r.URL.Query().Get("type"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	buckets, err := a.svc.TimeDistribution(r.Context(), userParam(r), by)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, buckets)
}

func (a *api) categoryBreakdown(w http.ResponseWriter, r *http.Request) {
	buckets, err := a.svc.CategoryBreakdown(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, buckets)
}

func (a *api) comparison(w http.ResponseWriter, r *http.Request) {
	months, ok := intQuery(w, r, "months", 3)
	if !ok {
		return
	}
	out, err := a.svc.MonthlyComparison(r.Context(), userParam(r), months)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

func (a *api) userInsights(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Insight(r.Context(), userParam(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

// fail maps domain errors onto the JSON error envelope.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyUserID):
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrOverflow):
		writeError(w, http.StatusBadRequest, "overflow", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
	}
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer", nil)
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}
