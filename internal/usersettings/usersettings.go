// Package usersettings defines the UserSettingsStore port used by
// CronPlanner and the daily-summary/work-sampling handlers to resolve a
// user's local time zone and chat destination. It is an external
// collaborator per spec.md §1; the in-memory implementation here is seeded
// from static config since no profile-store ingestion path is in scope.
package usersettings

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Settings is the per-user data the scheduler core needs: where to push
// messages and which zone governs the daily-summary and work-sampling
// planners' local-time math.
type Settings struct {
	ChatID   string
	Timezone string
}

// Store resolves a user's settings. TimeZone alone satisfies
// cronplanner.UserTimeZones; ChatID is used by the daily_summary and
// work_sampling_prompt handlers to know where to push a message.
type Store interface {
	TimeZone(ctx context.Context, userID string) (*time.Location, error)
	ChatID(ctx context.Context, userID string) (string, error)
}

// Static is a Store backed by a fixed map, populated at process start from
// config. It never changes at runtime; a later revision may back it with a
// real profile store, but that ingestion path is out of this core's scope.
type Static struct {
	mu    sync.RWMutex
	users map[string]Settings
	locs  map[string]*time.Location
}

var _ Store = (*Static)(nil)

// NewStatic builds a Static store from userID -> Settings, resolving every
// Timezone eagerly so a typo surfaces at startup instead of at the first
// planner tick.
func NewStatic(users map[string]Settings) (*Static, error) {
	locs := make(map[string]*time.Location, len(users))
	for userID, s := range users {
		tz := s.Timezone
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("usersettings: user %q: load location %q: %w", userID, tz, err)
		}
		locs[userID] = loc
	}
	return &Static{users: users, locs: locs}, nil
}

func (s *Static) TimeZone(_ context.Context, userID string) (*time.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locs[userID]
	if !ok {
		return nil, fmt.Errorf("usersettings: unknown user %q", userID)
	}
	return loc, nil
}

func (s *Static) ChatID(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.users[userID]
	if !ok {
		return "", fmt.Errorf("usersettings: unknown user %q", userID)
	}
	return settings.ChatID, nil
}

// Users returns the configured user IDs, in no particular order. Callers
// that need a stable iteration order (the planners) should sort it.
func (s *Static) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.users))
	for userID := range s.users {
		out = append(out, userID)
	}
	return out
}
