package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/internal/core/services"
)

// voiceStateBody mirrors the Lavalink v4 voice update payload.
type voiceStateBody struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

type trackBody struct {
	URI *string `json:"uri"`
}

// playerUpdateBody is the PATCH body. Absent fields leave the
// corresponding state untouched.
type playerUpdateBody struct {
	Voice     *voiceStateBody `json:"voice,omitempty"`
	Track     *trackBody      `json:"track,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
}

// playerResponse is the full player view returned by GET and PATCH.
type playerResponse struct {
	GuildID    domain.GuildID                       `json:"guildId"`
	Connected  bool                                 `json:"connected"`
	Connection *domain.ConnectionInfo               `json:"connection,omitempty"`
	Recovery   *domain.RecoveryState                `json:"recovery,omitempty"`
	Health     *domain.HealthCheckResult            `json:"health,omitempty"`
	Quality    *services.QualityState               `json:"quality,omitempty"`
	Stream     *domain.StreamingSession             `json:"stream,omitempty"`
	Metrics    *domain.ConnectionPerformanceMetrics `json:"metrics,omitempty"`
}

// PlayerHandler serves the per-guild player resource under a session.
type PlayerHandler struct {
	manager  *services.ConnectionManager
	sessions ports.SessionRepository
	logger   *zap.SugaredLogger
}

func NewPlayerHandler(manager *services.ConnectionManager, sessions ports.SessionRepository, logger *zap.SugaredLogger) *PlayerHandler {
	return &PlayerHandler{manager: manager, sessions: sessions, logger: logger}
}

// Register mounts the player routes.
func (h *PlayerHandler) Register(r gin.IRouter) {
	players := r.Group("/sessions/:sessionId/players")
	players.GET("", h.listPlayers)
	players.GET("/:guildId", h.getPlayer)
	players.PATCH("/:guildId", h.updatePlayer)
	players.DELETE("/:guildId", h.destroyPlayer)
}

func (h *PlayerHandler) session(c *gin.Context) (*domain.Session, bool) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return session, true
}

func (h *PlayerHandler) listPlayers(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	players := make([]playerResponse, 0, len(session.Guilds))
	for _, guildID := range session.Guilds {
		players = append(players, h.buildPlayer(guildID))
	}
	c.JSON(http.StatusOK, gin.H{"players": players})
}

func (h *PlayerHandler) getPlayer(c *gin.Context) {
	if _, ok := h.session(c); !ok {
		return
	}

	guildID := domain.GuildID(c.Param("guildId"))
	if _, ok := h.manager.GetConnectionInfo(guildID); !ok {
		_ = c.Error(domain.ErrGuildNotFound)
		return
	}
	c.JSON(http.StatusOK, h.buildPlayer(guildID))
}

func (h *PlayerHandler) updatePlayer(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var body playerUpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": err.Error()})
		return
	}

	guildID := domain.GuildID(c.Param("guildId"))
	ctx := c.Request.Context()

	if body.Voice != nil {
		info := domain.VoiceServerInfo{
			Token:     body.Voice.Token,
			Endpoint:  body.Voice.Endpoint,
			SessionID: body.Voice.SessionID,
		}
		if err := h.manager.VoiceServerUpdate(ctx, guildID, body.ChannelID, "", info); err != nil {
			_ = c.Error(err)
			return
		}
		h.attachGuild(c, session, guildID)
	}

	if body.Track != nil {
		if body.Track.URI == nil {
			if err := h.manager.Stop(ctx, guildID); err != nil && err != domain.ErrNoActiveStream {
				_ = c.Error(err)
				return
			}
		} else {
			if _, err := h.manager.Play(ctx, guildID, *body.Track.URI); err != nil {
				_ = c.Error(err)
				return
			}
		}
	}

	c.JSON(http.StatusOK, h.buildPlayer(guildID))
}

func (h *PlayerHandler) destroyPlayer(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	guildID := domain.GuildID(c.Param("guildId"))
	if err := h.manager.Disconnect(c.Request.Context(), guildID); err != nil {
		h.logger.Warnw("player destroy finished with error", "guild_id", guildID, "error", err)
	}
	h.detachGuild(c, session, guildID)

	c.Status(http.StatusNoContent)
}

func (h *PlayerHandler) attachGuild(c *gin.Context, session *domain.Session, guildID domain.GuildID) {
	for _, g := range session.Guilds {
		if g == guildID {
			return
		}
	}
	session.Guilds = append(session.Guilds, guildID)
	session.LastSeen = time.Now()
	if err := h.sessions.Save(c.Request.Context(), session); err != nil {
		h.logger.Warnw("session update failed", "session_id", session.ID, "error", err)
	}
}

func (h *PlayerHandler) detachGuild(c *gin.Context, session *domain.Session, guildID domain.GuildID) {
	for i, g := range session.Guilds {
		if g == guildID {
			session.Guilds = append(session.Guilds[:i], session.Guilds[i+1:]...)
			break
		}
	}
	session.LastSeen = time.Now()
	if err := h.sessions.Save(c.Request.Context(), session); err != nil {
		h.logger.Warnw("session update failed", "session_id", session.ID, "error", err)
	}
}

func (h *PlayerHandler) buildPlayer(guildID domain.GuildID) playerResponse {
	resp := playerResponse{GuildID: guildID}

	if info, ok := h.manager.GetConnectionInfo(guildID); ok {
		resp.Connected = info.IsActive
		resp.Connection = &info
	}
	if state, ok := h.manager.GetRecoveryState(guildID); ok {
		resp.Recovery = &state
	}
	if health, ok := h.manager.GetHealthStatus(guildID); ok {
		resp.Health = &health
	}
	if quality, ok := h.manager.GetQualityState(guildID); ok {
		resp.Quality = &quality
	}
	if stream, ok := h.manager.GetStream(guildID); ok {
		resp.Stream = &stream
	}
	metrics := h.manager.GetPerformanceMetrics(guildID)
	resp.Metrics = &metrics

	return resp
}
