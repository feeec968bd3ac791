package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzprometheus "github.com/hertz-contrib/monitor-prometheus"
	"github.com/urfave/cli/v3"

	"github.com/eykd/companion-memory/internal/metrics"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	pkgprometheus "github.com/eykd/companion-memory/internal/pkg/prometheus"
)

const httpRequestTimeout = 60 * time.Second

// webCommand serves the manual-enqueue API, the Telegram webhook intake, and
// Prometheus metrics exposition.
func webCommand() *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the scheduling API, chat webhook intake, and metrics",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "metrics-bind", Value: ":9091", Usage: "Address for the Prometheus metrics endpoint"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runWeb(ctx, cmd.String("config"), cmd.String("metrics-bind"))
		},
	}
}

func runWeb(ctx context.Context, cfgPath, metricsBind string) error {
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hlog.SetLogger(logs.NewHlogLogger(a.logger))

	metricsServer := &http.Server{Addr: metricsBind, Handler: metrics.Handler(pkgprometheus.GetRegistry())}
	go func() {
		if serveErr := metricsServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			a.logger.CtxError(ctx, "web: metrics server: %v", serveErr)
		}
	}()

	// hertz-contrib/monitor-prometheus runs its own exposition listener for
	// Hertz's built-in request-latency/throughput metrics, separate from the
	// business metrics metricsServer above.
	tracer := hertzprometheus.NewServerTracer(":9092", "/hertzmetrics")

	srv := hzServer.Default(
		hzServer.WithHostPorts(a.cfg.HTTP.Bind),
		hzServer.WithReadTimeout(httpRequestTimeout),
		hzServer.WithWriteTimeout(httpRequestTimeout),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(tracer),
	)

	w := &webServer{app: a}
	srv.GET("/health", func(_ context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok", "job_types": a.registry.JobTypes()})
	})
	srv.POST("/schedule", w.handleSchedule)
	srv.POST("/webhook/telegram", w.handleTelegramWebhook)

	go srv.Spin()

	a.logger.CtxInfo(ctx, "web listening on %s (metrics on %s)", a.cfg.HTTP.Bind, metricsBind)
	waitForShutdown(ctx, a.logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.CtxWarn(ctx, "web: shutdown http server: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		a.logger.CtxWarn(ctx, "web: shutdown metrics server: %v", err)
	}

	cancel()
	return nil
}

// webServer holds the handlers mounted on the Hertz app.
type webServer struct {
	app *app
}

// scheduleRequest is the body expected on POST /schedule. It mirrors
// schedulerapi.API.Schedule's arguments directly: this endpoint is the
// manual-enqueue escape hatch operators and integration tests use, not a
// first-class product surface.
type scheduleRequest struct {
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload"`
	When      time.Time       `json:"when"`
	LogicalID string          `json:"logical_id,omitempty"`
	Bucket    string          `json:"bucket,omitempty"`
}

type scheduleResponse struct {
	Result string `json:"result"`
}

func (w *webServer) handleSchedule(ctx context.Context, c *app.RequestContext) {
	var req scheduleRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}
	if req.JobType == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_type is required"})
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		if err := sonic.Unmarshal(req.Payload, &payload); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid payload"})
			return
		}
	}

	result, err := w.app.api.Schedule(ctx, req.JobType, payload, req.When, req.LogicalID, req.Bucket)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, scheduleResponse{Result: result.String()})
}

// telegramUpdate carries only the fields needed to enqueue a send_chat_message
// job. Signature verification of the webhook caller is out of scope: the web
// subcommand trusts its network perimeter (reverse proxy allowlist) instead;
// the route is the fixed path /webhook/telegram and carries no token.
type telegramUpdate struct {
	Message struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

func (w *webServer) handleTelegramWebhook(ctx context.Context, c *app.RequestContext) {
	var update telegramUpdate
	if err := sonic.Unmarshal(c.GetRequest().Body(), &update); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid update"})
		return
	}
	if update.Message.Text == "" {
		c.JSON(consts.StatusOK, utils.H{"status": "ignored"})
		return
	}

	payload := map[string]string{
		"chat_id": formatChatID(update.Message.Chat.ID),
		"content": "received: " + update.Message.Text,
	}
	if _, err := w.app.api.Schedule(ctx, "send_chat_message", payload, w.app.clock.Now(), "", ""); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "accepted"})
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
