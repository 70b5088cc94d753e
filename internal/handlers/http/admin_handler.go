package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/services"
)

// AdminHandler exposes operator controls: recovery overrides, health
// inspection, pool state, quality management and alert handling.
type AdminHandler struct {
	manager *services.ConnectionManager
	logger  *zap.SugaredLogger
}

func NewAdminHandler(manager *services.ConnectionManager, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{manager: manager, logger: logger}
}

// Register mounts the admin routes.
func (h *AdminHandler) Register(r gin.IRouter) {
	admin := r.Group("/admin")

	guilds := admin.Group("/guilds/:guildId")
	guilds.GET("/recovery", h.getRecoveryState)
	guilds.POST("/recovery/reset", h.resetRecoveryState)
	guilds.POST("/circuit-breaker/close", h.closeCircuitBreaker)
	guilds.GET("/health", h.getGuildHealth)
	guilds.GET("/quality", h.getQualityState)
	guilds.POST("/quality/preset", h.applyQualityPreset)

	admin.GET("/health", h.getAllHealth)
	admin.GET("/summary", h.getSummary)
	admin.GET("/pool", h.getPool)
	admin.GET("/quality/report", h.getQualityReport)
	admin.GET("/alerts", h.getAlerts)
	admin.POST("/alerts/:alertId/ack", h.acknowledgeAlert)
}

func (h *AdminHandler) getRecoveryState(c *gin.Context) {
	guildID := domain.GuildID(c.Param("guildId"))
	state, ok := h.manager.GetRecoveryState(guildID)
	if !ok {
		_ = c.Error(domain.ErrGuildNotFound)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *AdminHandler) resetRecoveryState(c *gin.Context) {
	guildID := domain.GuildID(c.Param("guildId"))
	h.manager.ResetRecoveryState(guildID)
	h.logger.Infow("recovery state reset by operator", "guild_id", guildID)
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) closeCircuitBreaker(c *gin.Context) {
	guildID := domain.GuildID(c.Param("guildId"))
	h.manager.ForceCloseCircuitBreaker(guildID)
	h.logger.Infow("circuit breaker closed by operator", "guild_id", guildID)
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) getGuildHealth(c *gin.Context) {
	guildID := domain.GuildID(c.Param("guildId"))
	result, ok := h.manager.GetHealthStatus(guildID)
	if !ok {
		_ = c.Error(domain.ErrGuildNotFound)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) getAllHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetAllHealthStatus())
}

func (h *AdminHandler) getSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GetMonitoringSummary())
}

func (h *AdminHandler) getPool(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": h.manager.GetPoolMetrics(),
		"guilds":  h.manager.ActiveGuilds(),
	})
}

func (h *AdminHandler) getQualityState(c *gin.Context) {
	guildID := domain.GuildID(c.Param("guildId"))
	state, ok := h.manager.GetQualityState(guildID)
	if !ok {
		_ = c.Error(domain.ErrGuildNotFound)
		return
	}
	c.JSON(http.StatusOK, state)
}

type presetBody struct {
	Preset string `json:"preset"`
}

func (h *AdminHandler) applyQualityPreset(c *gin.Context) {
	var body presetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": err.Error()})
		return
	}

	preset, ok := domain.ParsePreset(body.Preset)
	if !ok {
		_ = c.Error(domain.ErrUnknownPreset)
		return
	}

	guildID := domain.GuildID(c.Param("guildId"))
	if err := h.manager.ApplyQualityPreset(guildID, preset); err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Infow("quality preset applied by operator", "guild_id", guildID, "preset", preset)
	state, _ := h.manager.GetQualityState(guildID)
	c.JSON(http.StatusOK, state)
}

func (h *AdminHandler) getQualityReport(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.GenerateQualityReport())
}

func (h *AdminHandler) getAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.manager.GetAlerts()})
}

func (h *AdminHandler) acknowledgeAlert(c *gin.Context) {
	if err := h.manager.AcknowledgeAlert(c.Param("alertId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
