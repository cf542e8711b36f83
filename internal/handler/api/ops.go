package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	"github.com/Mengjun74/ibkr-mvp/internal/engine"
	"github.com/Mengjun74/ibkr-mvp/internal/risk"
	"github.com/Mengjun74/ibkr-mvp/internal/usecase"
	"github.com/Mengjun74/ibkr-mvp/pkg/cache"
	xhttp "github.com/Mengjun74/ibkr-mvp/pkg/http"
	xlogger "github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// KillSwitch is the operator-facing view of the kill-switch store.
type KillSwitch interface {
	Engaged(ctx context.Context) (bool, error)
	Engage(ctx context.Context, reason string) error
	Clear(ctx context.Context) error
	Reason(ctx context.Context) string
}

// RiskEventSource lists recent audit records for the ops views.
type RiskEventSource interface {
	RecentRiskEvents(ctx context.Context, n int) ([]models.RiskEvent, error)
	RecentSignals(ctx context.Context, n int) ([]models.CandidateSignal, error)
	Health(ctx context.Context) error
}

// OpsHandler exposes the operational surface: engine status, kill switch
// control, recent risk events, and recent warn/error log entries.
type OpsHandler struct {
	logger    *xlogger.Logger
	orch      *engine.Orchestrator
	collector *usecase.BarCollector
	ks        KillSwitch
	events    RiskEventSource
	cache     cache.Service
}

func NewOpsHandler(logger *xlogger.Logger, orch *engine.Orchestrator, collector *usecase.BarCollector, ks KillSwitch, events RiskEventSource) *OpsHandler {
	return &OpsHandler{
		logger:    logger,
		orch:      orch,
		collector: collector,
		ks:        ks,
		events:    events,
		cache:     cache.NewMemoryCache(cache.WithMemoryMaxSize(64)),
	}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/killswitch", h.KillSwitchState)
	g.POST("/killswitch", h.EngageKillSwitch)
	g.DELETE("/killswitch", h.ClearKillSwitch)
	g.GET("/signals", h.Signals)
	g.GET("/riskevents", h.RiskEvents)
	g.GET("/logs/recent", h.RecentLogs)
	e.GET("/health", h.Health)
}

type statusResponse struct {
	Snapshot  models.EngineSnapshot `json:"snapshot"`
	Ledger    risk.LedgerSnapshot   `json:"ledger"`
	Connected bool                  `json:"gateway_connected"`
}

func (h *OpsHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, statusResponse{
		Snapshot:  h.orch.LastSnapshot(),
		Ledger:    h.orch.Ledger(),
		Connected: h.collector.IsConnected(),
	})
}

type killSwitchState struct {
	Engaged bool   `json:"engaged"`
	Reason  string `json:"reason,omitempty"`
}

func (h *OpsHandler) KillSwitchState(c echo.Context) error {
	ctx := c.Request().Context()
	engaged, err := h.ks.Engaged(ctx)
	if err != nil {
		h.logger.Error("kill switch read error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("kill switch store unavailable").WithError(err))
	}
	state := killSwitchState{Engaged: engaged}
	if engaged {
		state.Reason = h.ks.Reason(ctx)
	}
	return xhttp.SuccessResponse(c, state)
}

type engageRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

func (h *OpsHandler) EngageKillSwitch(c echo.Context) error {
	req := &engageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.ks.Engage(c.Request().Context(), req.Reason); err != nil {
		h.logger.Error("kill switch engage error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Warn("kill switch engaged by operator", xlogger.String("reason", req.Reason))
	return xhttp.SuccessResponse(c, killSwitchState{Engaged: true, Reason: req.Reason})
}

func (h *OpsHandler) ClearKillSwitch(c echo.Context) error {
	if err := h.ks.Clear(c.Request().Context()); err != nil {
		h.logger.Error("kill switch clear error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Warn("kill switch cleared by operator")
	return xhttp.SuccessResponse(c, killSwitchState{Engaged: false})
}

func (h *OpsHandler) Signals(c echo.Context) error {
	ctx := c.Request().Context()
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	signals, err := h.events.RecentSignals(ctx, limit)
	if err != nil {
		h.logger.Error("signals query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("signal store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, signals)
}

func (h *OpsHandler) RiskEvents(c echo.Context) error {
	ctx := c.Request().Context()
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	key := cache.GenerateKey("riskevents", c.QueryParam("limit"))
	var cached interface{}
	if err := h.cache.Get(ctx, key, &cached); err == nil {
		if events, ok := cached.([]models.RiskEvent); ok {
			return xhttp.SuccessResponse(c, events)
		}
	}

	events, err := h.events.RecentRiskEvents(ctx, limit)
	if err != nil {
		h.logger.Error("risk events query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("risk event store unavailable").WithError(err))
	}
	_ = h.cache.Set(ctx, key, events, 5*time.Second)
	return xhttp.SuccessResponse(c, events)
}

func (h *OpsHandler) RecentLogs(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.logger.Recent())
}

type healthResponse struct {
	Status  string `json:"status"`
	Gateway bool   `json:"gateway"`
	Store   bool   `json:"store"`
}

func (h *OpsHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	storeOK := h.events.Health(ctx) == nil
	gwOK := h.collector.IsConnected()
	status := "ok"
	if !storeOK || !gwOK {
		status = "degraded"
	}
	return xhttp.SuccessResponse(c, healthResponse{Status: status, Gateway: gwOK, Store: storeOK})
}
