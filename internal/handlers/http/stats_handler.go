package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/services"
)

// Version is stamped by the build.
var Version = "dev"

type statsResponse struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	UptimeMs       int64       `json:"uptime"`
	Memory         memoryStats `json:"memory"`
	Pool           interface{} `json:"pool"`
	Goroutines     int         `json:"goroutines"`
}

type memoryStats struct {
	Used      uint64 `json:"used"`
	Allocated uint64 `json:"allocated"`
	Sys       uint64 `json:"sys"`
	GCCount   uint32 `json:"gcCount"`
}

// StatsHandler serves node-level statistics and the version endpoint.
type StatsHandler struct {
	manager *services.ConnectionManager
	started time.Time
}

func NewStatsHandler(manager *services.ConnectionManager) *StatsHandler {
	return &StatsHandler{manager: manager, started: time.Now()}
}

// Register mounts /stats on the versioned group and /version at root.
func (h *StatsHandler) Register(v4 gin.IRouter, root gin.IRouter) {
	v4.GET("/stats", h.getStats)
	root.GET("/version", h.getVersion)
}

func (h *StatsHandler) getStats(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	playing := 0
	for _, s := range h.manager.ActiveStreams() {
		if s.State == domain.StreamPlaying {
			playing++
		}
	}

	c.JSON(http.StatusOK, statsResponse{
		Players:        len(h.manager.ActiveGuilds()),
		PlayingPlayers: playing,
		UptimeMs:       time.Since(h.started).Milliseconds(),
		Memory: memoryStats{
			Used:      mem.HeapInuse,
			Allocated: mem.HeapAlloc,
			Sys:       mem.Sys,
			GCCount:   mem.NumGC,
		},
		Pool:       h.manager.GetPoolMetrics(),
		Goroutines: runtime.NumGoroutine(),
	})
}

func (h *StatsHandler) getVersion(c *gin.Context) {
	c.String(http.StatusOK, Version)
}
