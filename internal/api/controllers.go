package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autotrade-core/internal/engine"
	"autotrade-core/internal/indicators"
	"autotrade-core/internal/session"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

type sessionConfigRequest struct {
	AccountID           string                    `json:"account_id" binding:"required"`
	Segment             string                    `json:"segment" binding:"required,oneof=domestic global"`
	StrategyKinds       []string                  `json:"strategy_kinds"`
	StrategyParams      map[string]float64        `json:"strategy_params"`
	Instruments         []db.InstrumentAllocation `json:"instruments" binding:"required,min=1"`
	TotalCapital        float64                   `json:"total_capital" binding:"gt=0"`
	StopLossPercent     float64                   `json:"stop_loss_percent" binding:"gte=0"`
	TakeProfitPercent   float64                   `json:"take_profit_percent" binding:"gte=0"`
	PollIntervalSeconds int                       `json:"poll_interval_seconds" binding:"gte=0"`
}

type startSessionRequest struct {
	StrategyID string                `json:"strategy_id"`
	Config     *sessionConfigRequest `json:"config"`
}

func (r *sessionConfigRequest) toConfig() *session.Config {
	return &session.Config{
		AccountID:         r.AccountID,
		Segment:           broker.Segment(r.Segment),
		StrategyKinds:     r.StrategyKinds,
		StrategyParams:    r.StrategyParams,
		Instruments:       r.Instruments,
		TotalCapital:      r.TotalCapital,
		StopLossPercent:   r.StopLossPercent,
		TakeProfitPercent: r.TakeProfitPercent,
		PollInterval:      time.Duration(r.PollIntervalSeconds) * time.Second,
	}
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and session errors onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrInvalidConfiguration):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIGURATION", err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, broker.ErrUnavailable):
		respondError(c, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", err.Error())
	default:
		logger.WithComponent("api").WithError(err).Error("engine call failed")
		respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not enabled")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getMarketStatus(c *gin.Context) {
	seg, err := broker.ParseSegment(c.Param("segment"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SEGMENT", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Engine.MarketStatus(c.Request.Context(), seg))
}

func (s *Server) getStrategies(c *gin.Context) {
	list, err := s.Engine.ListStrategies(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if list == nil {
		list = []engine.StrategyInfo{}
	}
	c.JSON(http.StatusOK, list)
}

// Session commands

func (s *Server) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.StrategyID == "" && req.Config == nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "strategy_id or config is required")
		return
	}

	start := engine.StartRequest{StrategyID: req.StrategyID}
	if req.Config != nil {
		start.Config = req.Config.toConfig()
	}
	snap, err := s.Engine.StartSession(c.Request.Context(), start)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	logger.WithComponent("api").WithFields(logger.Fields{
		"operator": CurrentOperator(c), "session": snap.ID, "account": snap.AccountID,
	}).Info("session start requested")
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) pauseSession(c *gin.Context) {
	snap, err := s.Engine.PauseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) resumeSession(c *gin.Context) {
	snap, err := s.Engine.ResumeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) stopSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.StopSession(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": session.StatusStopped})
}

func (s *Server) emergencyStop(c *gin.Context) {
	res, err := s.Engine.EmergencyStopAll(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	logger.WithComponent("api").WithFields(logger.Fields{
		"operator": CurrentOperator(c), "stopped": res.Stopped, "failures": len(res.Failures),
	}).Warn("emergency stop")
	c.JSON(http.StatusOK, res)
}

// Session queries

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.Engine.ListSessions(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if list == nil {
		list = []session.Snapshot{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSession(c *gin.Context) {
	snap, err := s.Engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getSessionIndicators(c *gin.Context) {
	snap, err := s.Engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	out := snap.Indicators
	if out == nil {
		out = map[string]indicators.Snapshot{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSessionAudit(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(100, 500)

	entries, err := s.Engine.ListAudit(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if entries == nil {
		entries = []engine.AuditEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) listAccountSessions(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(50, 200)

	records, err := s.Engine.ListAccountSessions(c.Request.Context(), c.Param("account"), q.Limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if records == nil {
		records = []engine.SessionRecord{}
	}
	c.JSON(http.StatusOK, records)
}
