package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/leaderboard"
)

func newTestService(t *testing.T) *engine.ProgressService {
	t.Helper()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := engine.NewProgressService(mem.New(), engine.NewEventBus(engine.DispatchSync), engine.DefaultRuleEngine(),
		engine.WithClock(func() time.Time { return now }),
		engine.WithLeaderboard(leaderboard.NewSkipList()),
	)
	t.Cleanup(svc.Close)
	return svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestEntryLifecycle(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/users/Alice/entries", `{"date":"2024-03-10","note":"shipped it","images":["/a.png"],"tags":["Work"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[core.ProgressEntry](t, rec)
	assert.Equal(t, core.UserID("alice"), created.UserID)
	assert.Equal(t, int64(15), created.XPEarned)

	rec = do(t, h, http.MethodGet, "/api/users/alice/entries/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/users/alice/entries/"+created.ID, `{"note":"edited"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "edited", decode[core.ProgressEntry](t, rec).Note)

	rec = do(t, h, http.MethodGet, "/api/users/alice/entries/date/2024-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.ProgressEntry](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/users/alice/entries?tag=work&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.ProgressEntry](t, rec), 1)

	rec = do(t, h, http.MethodDelete, "/api/users/alice/entries/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/users/alice/entries/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[apiError](t, rec).Code)
}

func TestEntryValidation(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})

	rec := do(t, h, http.MethodPost, "/users/alice/entries", `{"note":"no date"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[apiError](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/users/alice/entries", `{"date":"10/03/2024"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decode[apiError](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/users/%20/entries", `{"date":"2024-03-10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_user", decode[apiError](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/users/alice/entries/date/yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/alice/entries?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestXPAndAchievements(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api/"})

	rec := do(t, h, http.MethodPost, "/api/users/alice/xp?delta=150", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[core.LevelInfo](t, rec)
	assert.Equal(t, int64(150), info.XP)
	assert.Equal(t, int64(2), info.Level)

	rec = do(t, h, http.MethodPost, "/api/users/alice/xp?delta=bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/users/alice/xp?delta=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/users/alice/xp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(150), decode[core.LevelInfo](t, rec).XP)

	rec = do(t, h, http.MethodGet, "/api/users/alice/achievements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]engine.AchievementStatus](t, rec)
	assert.Len(t, list, len(core.DefaultCatalog()))

	rec = do(t, h, http.MethodPost, "/api/users/alice/achievements/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unlocked":[]}`, rec.Body.String())
}

func TestInteractions(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})

	rec := do(t, h, http.MethodPost, "/users/alice/interactions/Comment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"kind":"comment","count":1}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/users/alice/interactions/wave", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	svc := newTestService(t)
	h := NewMux(svc, nil, Options{})
	for _, d := range []string{"2024-03-08", "2024-03-09", "2024-03-10"} {
		rec := do(t, h, http.MethodPost, "/users/bob/entries", `{"date":"`+d+`","tags":["work"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/users/bob/analytics/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[analytics.Stats](t, rec)
	assert.Equal(t, 3, stats.CurrentStreak)

	for _, path := range []string{
		"/users/bob/analytics/heatmap?year=2024",
		"/users/bob/analytics/trends?period=week",
		"/users/bob/analytics/time-distribution?type=day",
		"/users/bob/analytics/category-breakdown",
		"/users/bob/analytics/comparison?months=6",
		"/users/bob/insights",
	} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/bob/analytics/trends?period=year", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/bob/analytics/time-distribution?type=minute", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/bob/analytics/comparison?months=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/bob/analytics/heatmap?year=x", "").Code)
}

func TestLeaderboard(t *testing.T) {
	svc := newTestService(t)
	h := NewMux(svc, nil, Options{})
	do(t, h, http.MethodPost, "/users/a/xp?delta=10", "")
	do(t, h, http.MethodPost, "/users/b/xp?delta=900", "")

	rec := do(t, h, http.MethodGet, "/leaderboard?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[[]leaderboard.Standing](t, rec)
	require.Len(t, top, 1)
	assert.Equal(t, core.UserID("b"), top[0].User)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/leaderboard?limit=0", "").Code)
}

func TestTextInsights(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})

	rec := do(t, h, http.MethodPost, "/insights/auto-tag", `{"text":"Morning workout at the gym"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var tags struct {
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	assert.Contains(t, tags.Tags, "exercise")

	rec = do(t, h, http.MethodPost, "/insights/sentiment", `{"text":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/insights/sentiment", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	counter := analytics.NewEventCounter()
	svc := newTestService(t)
	svc.Subscribe(engine.AnyEvent, func(_ context.Context, e core.Event) { counter.OnEvent(e) })
	h := NewMux(svc, nil, Options{Counter: counter})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"storage":"ok"}}`, rec.Body.String())

	do(t, h, http.MethodPost, "/users/a/xp?delta=10", "")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	plain := NewMux(svc, nil, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, plain, http.MethodGet, "/metrics", "").Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/elsewhere", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPatch, "/api/users/a/xp", "").Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, h, http.MethodGet, "/api/users/alice/xp", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice/xp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/users/alice/xp?api_key=secret", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/healthz", "").Code)
}

func TestRateLimit(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/users/alice/xp", nil)
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := newRateLimiter(60, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

func TestMetricsHonourTopAchievements(t *testing.T) {
	counter := analytics.NewEventCounter()
	for _, a := range core.DefaultCatalog()[:3] {
		counter.OnEvent(core.NewAchievementUnlocked("a", a))
	}

	h := NewMux(newTestService(t), nil, Options{Counter: counter, TopAchievements: 2})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[analytics.Snapshot](t, rec).TopAchievements, 2)

	h = NewMux(newTestService(t), nil, Options{Counter: counter})
	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Len(t, decode[analytics.Snapshot](t, rec).TopAchievements, 3)
}

func TestTodoRoutes(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})

	rec := do(t, h, http.MethodPost, "/users/alice/todos", `{"title":"write report","due_date":"2024-03-12","priority":"high"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	todo := decode[core.Todo](t, rec)
	assert.Equal(t, core.TodoUpcoming, todo.Status)

	rec = do(t, h, http.MethodPost, "/users/alice/todos", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/users/alice/todos/"+todo.ID, `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.TodoCompleted, decode[core.Todo](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/users/alice/todos?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Todo](t, rec), 1)
	rec = do(t, h, http.MethodGet, "/users/alice/todos?status=ongoing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]core.Todo](t, rec))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/alice/todos?status=someday", "").Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/users/bob/todos/"+todo.ID, "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/users/alice/todos/"+todo.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/users/alice/todos/"+todo.ID, "").Code)
}

func TestCommentAndReactionRoutes(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})

	rec := do(t, h, http.MethodPost, "/users/alice/entries", `{"date":"2024-03-10","note":"shipped it"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[core.ProgressEntry](t, rec)
	base := "/users/alice/entries/" + entry.ID

	rec = do(t, h, http.MethodPost, base+"/comments?user=bob", `{"content":"nice work"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	comment := decode[core.Comment](t, rec)
	assert.Equal(t, core.UserID("bob"), comment.Author)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, base+"/comments?user=bob", `{"content":""}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/users/alice/entries/missing/comments", `{"content":"hi"}`).Code)

	// only the author edits
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, base+"/comments/"+comment.ID, `{"content":"hijacked"}`).Code)
	rec = do(t, h, http.MethodPut, base+"/comments/"+comment.ID+"?user=bob", `{"content":"great work"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "great work", decode[core.Comment](t, rec).Content)

	rec = do(t, h, http.MethodGet, base+"/comments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Comment](t, rec), 1)

	rec = do(t, h, http.MethodPost, base+"/reactions?user=bob", `{"type":"🔥"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, base+"/reactions?user=bob", `{"type":"🔥"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[struct {
		Inserted bool `json:"inserted"`
	}](t, rec).Inserted)

	rec = do(t, h, http.MethodGet, base+"/reactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]core.Reaction](t, rec)["🔥"], 1)

	rec = do(t, h, http.MethodDelete, base+"/reactions/%F0%9F%94%A5?user=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, base+"/comments/"+comment.ID+"?user=bob", "").Code)
	rec = do(t, h, http.MethodGet, base+"/comments", "")
	assert.Empty(t, decode[[]core.Comment](t, rec))
}
