package handlers

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/dispatch"
)

// heartbeatPayload is the shape CronPlanner's heartbeat_timed trigger
// enqueues: the UUID it already logged at schedule time, carried forward so
// the eventual dispatch can log it again and prove the round trip worked.
type heartbeatPayload struct {
	UUID string `json:"uuid"`
}

func heartbeatEventRegistration() dispatch.Registration {
	return dispatch.Registration{
		JobType: "heartbeat_event",
		Parse: func(raw []byte) (any, error) {
			var p heartbeatPayload
			if err := sonic.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("heartbeat_event: %w", err)
			}
			if p.UUID == "" {
				return nil, fmt.Errorf("heartbeat_event: uuid is required")
			}
			return p, nil
		},
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			p := payload.(heartbeatPayload)
			if l := logger(hctx); l != nil {
				l.CtxInfo(ctx, "Heartbeat (event): UUID=%s", p.UUID)
			}
			return dispatch.OK()
		},
	}
}
