package adminhttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/internal/budget"
	"quorum/internal/config/loader"
	"quorum/internal/logger"
	"quorum/internal/store"
	"quorum/internal/store/decisionlog"

	"github.com/gin-gonic/gin"
)

// TradingControl flips the runtime enable gate.
type TradingControl interface {
	Snapshot() loader.Controls
	SetEnabled(enabled bool)
}

// BudgetControl exposes the daily spend governor.
type BudgetControl interface {
	Snapshot() budget.Snapshot
	SetCeiling(usd float64) float64
}

type Handler struct {
	Store     store.Store
	Budget    BudgetControl
	Controls  TradingControl
	Decisions *decisionlog.Store
	StartedAt time.Time
}

func NewHandler(st store.Store, b BudgetControl, c TradingControl, logs *decisionlog.Store) *Handler {
	return &Handler{Store: st, Budget: b, Controls: c, Decisions: logs, StartedAt: time.Now()}
}

// Register mounts the admin routes under the given group.
func (h *Handler) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", h.handleStatus)
	group.GET("/budget", h.handleBudget)
	group.POST("/budget", h.handleSetBudget)
	group.GET("/agents", h.handleAgents)
	group.GET("/decisions", h.handleDecisions)
	group.POST("/trading/enable", h.handleEnable(true))
	group.POST("/trading/disable", h.handleEnable(false))
}

func (h *Handler) handleStatus(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"uptime": time.Since(h.StartedAt).Truncate(time.Second).String(),
	}
	if h.Controls != nil {
		snap := h.Controls.Snapshot()
		resp["trading_enabled"] = snap.Enabled
		resp["controls_loaded_at"] = snap.LoadedAt
	}
	if h.Budget != nil {
		resp["budget"] = h.Budget.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleBudget(c *gin.Context) {
	if h.Budget == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "budget governor unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.Budget.Snapshot())
}

type setBudgetRequest struct {
	DailyCeilingUSD float64 `json:"daily_ceiling_usd"`
}

func (h *Handler) handleSetBudget(c *gin.Context) {
	if h.Budget == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "budget governor unavailable"})
		return
	}
	var req setBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	applied := h.Budget.SetCeiling(req.DailyCeilingUSD)
	logger.Infof("[api] budget ceiling set ip=%s requested=%.2f applied=%.2f", c.ClientIP(), req.DailyCeilingUSD, applied)
	c.JSON(http.StatusOK, gin.H{
		"requested_usd": req.DailyCeilingUSD,
		"applied_usd":   applied,
		"snapshot":      h.Budget.Snapshot(),
	})
}

type agentStanding struct {
	store.AgentRecord
	Equity    float64                `json:"equity"`
	Positions []store.PositionRecord `json:"positions"`
}

func (h *Handler) handleAgents(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger store unavailable"})
		return
	}
	ctx := c.Request.Context()
	agents, err := h.Store.ListAgents(ctx)
	if err != nil {
		logger.Errorf("[api] list agents failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	standings := make([]agentStanding, 0, len(agents))
	for _, a := range agents {
		positions, perr := h.Store.ListPositions(ctx, a.Name)
		if perr != nil {
			logger.Warnf("[api] positions for %s failed: %v", a.Name, perr)
		}
		// equity at cost basis; mark-to-market lives in the review loop
		equity := a.Cash
		for _, p := range positions {
			equity += p.Quantity * p.AvgEntryPrice
		}
		standings = append(standings, agentStanding{AgentRecord: a, Equity: equity, Positions: positions})
	}
	c.JSON(http.StatusOK, gin.H{"agents": standings})
}

func (h *Handler) handleDecisions(c *gin.Context) {
	if h.Decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log unavailable"})
		return
	}
	agentName := strings.TrimSpace(c.Query("agent"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if cycleID := strings.TrimSpace(c.Query("cycle_id")); cycleID != "" {
		records, err := h.Decisions.ByCycle(c.Request.Context(), cycleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": records})
		return
	}
	records, err := h.Decisions.Recent(c.Request.Context(), agentName, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records})
}

func (h *Handler) handleEnable(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Controls == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runtime controls unavailable"})
			return
		}
		h.Controls.SetEnabled(enabled)
		logger.Infof("[api] trading enabled=%v ip=%s", enabled, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"trading_enabled": enabled})
	}
}
