package handlers

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/dispatch"
)

// userSyncPayload carries the user whose profile the periodic sync
// refreshes.
type userSyncPayload struct {
	UserID string `json:"user_id"`
}

// userSyncRegistration implements the handler spec.md §4.7 names the
// user_sync planner for but never defines a payload shape or handler body
// for — the distilled spec describes the trigger, not what a refresh
// actually does. No concrete "user profile" shape is specified anywhere in
// spec.md or original_source, so this is a no-op-but-idempotent stub: it
// confirms the user is known to the configured UserSettingsStore and
// reports success. A real profile-refresh implementation would replace the
// body without touching the registration or payload shape.
func userSyncRegistration() dispatch.Registration {
	return dispatch.Registration{
		JobType: "user_sync",
		Parse: func(raw []byte) (any, error) {
			var p userSyncPayload
			if err := sonic.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("user_sync: %w", err)
			}
			if p.UserID == "" {
				return nil, fmt.Errorf("user_sync: user_id is required")
			}
			return p, nil
		},
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			p := payload.(userSyncPayload)

			settings, ok := userSettings(hctx)
			if !ok {
				return dispatch.Permanent(fmt.Errorf("user_sync: no user settings store configured"))
			}
			if _, err := settings.TimeZone(ctx, p.UserID); err != nil {
				return dispatch.Retryable(fmt.Errorf("user_sync: %w", err))
			}

			if l := logger(hctx); l != nil {
				l.CtxInfo(ctx, "user_sync: refreshed %s", p.UserID)
			}
			return dispatch.OK()
		},
	}
}
