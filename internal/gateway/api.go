package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/scheduler"
	"github.com/tgifai/taskpilot/internal/store"
)

const (
	defaultSnoozeMinutes = 10
	maxExecutionLimit    = 200
)

func (gw *Gateway) initHTTPServer() {
	gw.httpServer.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := gw.httpServer.Group("/api", gw.authenticate)
	api.GET("/scheduler", gw.getScheduler)
	api.POST("/scheduler/start", gw.startScheduler)
	api.POST("/scheduler/stop", gw.stopScheduler)
	api.POST("/scheduler/tick", gw.tickScheduler)
	api.POST("/reminders/:id/reset", gw.resetReminder)
	api.POST("/reminders/:id/snooze", gw.snoozeReminder)
	api.POST("/scripts/:id/run", gw.runScript)
	api.GET("/scripts/:id/executions", gw.listExecutions)
}

// authenticate enforces the optional bearer api key.
func (gw *Gateway) authenticate(ctx context.Context, c *app.RequestContext) {
	key := gw.cfg.Server.APIKey
	if key == "" {
		c.Next(ctx)
		return
	}
	got, ok := strings.CutPrefix(string(c.GetHeader("Authorization")), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
		c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "unauthorized"})
		return
	}
	c.Next(ctx)
}

func (gw *Gateway) getScheduler(ctx context.Context, c *app.RequestContext) {
	chans := make([]utils.H, 0, gw.channels.Len())
	for _, ch := range gw.channels.List() {
		chans = append(chans, utils.H{"id": ch.ID(), "type": ch.Type()})
	}
	c.JSON(consts.StatusOK, utils.H{
		"state":    gw.scheduler.State().String(),
		"timezone": gw.scheduler.Location().String(),
		"channels": chans,
	})
}

func (gw *Gateway) startScheduler(ctx context.Context, c *app.RequestContext) {
	gw.mu.Lock()
	runCtx := gw.runCtx
	gw.mu.Unlock()
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}
	if err := gw.scheduler.Start(runCtx); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"state": gw.scheduler.State().String()})
}

func (gw *Gateway) stopScheduler(ctx context.Context, c *app.RequestContext) {
	stopCtx, cancel := context.WithTimeout(ctx, gw.timeout)
	defer cancel()
	if err := gw.scheduler.Stop(stopCtx); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"state": gw.scheduler.State().String()})
}

func (gw *Gateway) tickScheduler(ctx context.Context, c *app.RequestContext) {
	if err := gw.scheduler.RunCycle(context.WithoutCancel(ctx), gw.now()); err != nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

func (gw *Gateway) resetReminder(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := gw.store.ResetReminderNotified(ctx, id); err != nil {
		writeError(ctx, c, err)
		return
	}
	logs.CtxInfo(ctx, "[gateway] reminder %d reset", id)
	c.JSON(consts.StatusOK, utils.H{"id": id, "notify_sent": false})
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

func (gw *Gateway) snoozeReminder(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req snoozeRequest
	if body := c.Request.Body(); len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid body: " + err.Error()})
			return
		}
	}
	if req.Minutes <= 0 {
		req.Minutes = defaultSnoozeMinutes
	}

	due := gw.now().Add(time.Duration(req.Minutes) * time.Minute)
	if err := gw.store.SetReminderDue(ctx, id, &due); err != nil {
		writeError(ctx, c, err)
		return
	}
	logs.CtxInfo(ctx, "[gateway] reminder %d snoozed until %s", id, due.Format(time.RFC3339))
	c.JSON(consts.StatusOK, utils.H{"id": id, "due_at": due})
}

type runRequest struct {
	Input      map[string]any `json:"input"`
	TimeoutSec int            `json:"timeout_sec"`
}

func (gw *Gateway) runScript(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req runRequest
	if body := c.Request.Body(); len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	script, err := gw.store.GetScript(ctx, id)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	rec, err := runner.RunAndRecord(ctx, gw.runner, gw.store, script, runner.Invocation{
		Trigger: store.TriggerManual,
		Input:   req.Input,
		Timeout: time.Duration(req.TimeoutSec) * time.Second,
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

func (gw *Gateway) listExecutions(ctx context.Context, c *app.RequestContext) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	limit = min(limit, maxExecutionLimit)

	if _, err := gw.store.GetScript(ctx, id); err != nil {
		writeError(ctx, c, err)
		return
	}
	recs, err := gw.store.ListExecutions(ctx, id, limit)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"script_id": id, "executions": recs})
}

func pathID(c *app.RequestContext) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = consts.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyRunning), errors.Is(err, scheduler.ErrNotRunning):
		status = consts.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = consts.StatusGatewayTimeout
	}
	if status == consts.StatusInternalServerError {
		logs.CtxError(ctx, "[gateway] %s %s: %v", c.Method(), c.Path(), err)
	}
	c.JSON(status, utils.H{"error": err.Error()})
}
