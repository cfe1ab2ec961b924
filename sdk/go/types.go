package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"progresskit/core"
)

// AchievementStatus mirrors one row of GET /users/{id}/achievements.
type AchievementStatus struct {
	core.Achievement
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank  int         `json:"rank"`
	User  core.UserID `json:"user_id"`
	XP    int64       `json:"xp"`
	Level int64       `json:"level"`
}

// Stats mirrors GET /users/{id}/analytics/stats.
type Stats struct {
	Total         int     `json:"total"`
	ThisMonth     int     `json:"this_month"`
	ThisWeek      int     `json:"this_week"`
	Today         int     `json:"today"`
	TotalWords    int64   `json:"total_words"`
	TotalImages   int64   `json:"total_images"`
	AveragePerDay float64 `json:"average_per_day"`
	LongestStreak int     `json:"longest_streak"`
	CurrentStreak int     `json:"current_streak"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the error envelope returned by the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
