package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/internal/core/services"
	"voicelink/internal/infrastructure/events"
	"voicelink/internal/infrastructure/repositories/memory"
	"voicelink/internal/infrastructure/signal"
	"voicelink/internal/infrastructure/transport"
	"voicelink/pkg/config"
	"voicelink/pkg/idgen"
	"voicelink/pkg/logger"
)

type stubInput struct{ uri string }

func (s *stubInput) URI() string         { return s.uri }
func (s *stubInput) ContentType() string { return "audio/mpeg" }
func (s *stubInput) Close() error        { return nil }

type stubInputFactory struct{}

func (stubInputFactory) CreateInput(_ context.Context, uri string) (ports.AudioInput, error) {
	return &stubInput{uri: uri}, nil
}

const (
	testPassword  = "youshallnotpass"
	testSessionID = "abc123"
	testGuildID   = "123456789012345678"
)

type testStack struct {
	router   http.Handler
	manager  *services.ConnectionManager
	sessions *memory.SessionRepository
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.Monitoring.PrometheusEnabled = false

	log := logger.NewNop()
	ids := idgen.NewSequenceGenerator("test")
	bus := events.NewBus(log)

	collector := services.NewMetricsCollector()
	engine := services.NewRecoveryEngine(services.DefaultRecoveryConfig(), bus, ids, log)
	pool := services.NewConnectionPool(services.DefaultPoolConfig(), engine, transport.NewNoopFactory(), bus, ids, log)
	monitor := services.NewHealthMonitor(services.DefaultMonitoringConfig(), collector, bus, ids, log)

	qualityCfg := services.DefaultQualityConfig()
	qualityCfg.GradualTransitions = false
	quality := services.NewQualityManager(qualityCfg, bus, ids, log)

	streaming := services.NewStreamingManager(services.DefaultStreamingConfig(), stubInputFactory{}, quality, bus, ids, log)
	manager := services.NewConnectionManager(pool, engine, monitor, collector, quality, streaming, bus, log)

	sessions := memory.NewSessionRepository()
	require.NoError(t, sessions.Save(context.Background(), &domain.Session{
		ID:        testSessionID,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}))

	ws := signal.NewServer(signal.Config{
		Password:      testPassword,
		ResumeSecret:  []byte(testPassword),
		ResumeTimeout: time.Minute,
	}, sessions, bus, ids, log)

	return &testStack{
		router:   NewRouter(cfg, manager, sessions, ws, log),
		manager:  manager,
		sessions: sessions,
	}
}

func (s *testStack) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", testPassword)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testStack) connect(t *testing.T) {
	t.Helper()

	w := s.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, gin.H{
		"voice": gin.H{
			"token":     "tok",
			"endpoint":  "voice.example.com:443",
			"sessionId": "discord-session",
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestMissingAuthorizationRejected(t *testing.T) {
	stack := newTestStack(t)

	req := httptest.NewRequest(http.MethodGet, "/v4/sessions/"+testSessionID+"/players", nil)
	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVoiceUpdateConnectsPlayer(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodGet, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var player struct {
		GuildID   string `json:"guildId"`
		Connected bool   `json:"connected"`
		Quality   *struct {
			Preset string `json:"preset"`
		} `json:"quality"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &player))
	assert.Equal(t, testGuildID, player.GuildID)
	assert.True(t, player.Connected)
	require.NotNil(t, player.Quality)
	assert.Equal(t, "high", player.Quality.Preset)

	// The guild is attached to the session.
	session, err := stack.sessions.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.Contains(t, session.Guilds, domain.GuildID(testGuildID))
}

func TestVoiceUpdateRejectsBadGuildID(t *testing.T) {
	stack := newTestStack(t)

	w := stack.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/not-a-snowflake", gin.H{
		"voice": gin.H{
			"token":     "tok",
			"endpoint":  "voice.example.com:443",
			"sessionId": "discord-session",
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPlayerUnknownGuild(t *testing.T) {
	stack := newTestStack(t)

	w := stack.request(t, http.MethodGet, "/v4/sessions/"+testSessionID+"/players/999999999999999999", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Status int    `json:"status"`
		Error  string `json:"error"`
		Path   string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, "/v4/sessions/"+testSessionID+"/players/999999999999999999", body.Path)
}

func TestUnknownSessionIs404(t *testing.T) {
	stack := newTestStack(t)

	w := stack.request(t, http.MethodGet, "/v4/sessions/nope/players", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayAndStopTrack(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, gin.H{
		"track": gin.H{"uri": "https://cdn.example.com/tracks/song.mp3"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var player struct {
		Stream *struct {
			TrackURI string `json:"trackUri"`
			State    string `json:"state"`
		} `json:"stream"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &player))
	require.NotNil(t, player.Stream)
	assert.Equal(t, "https://cdn.example.com/tracks/song.mp3", player.Stream.TrackURI)
	assert.Equal(t, "playing", player.Stream.State)

	// Null uri stops the track.
	w = stack.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, gin.H{
		"track": gin.H{"uri": nil},
	})
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := stack.manager.GetStream(domain.GuildID(testGuildID))
	assert.False(t, ok)
}

func TestPlayWithoutConnectionIs404(t *testing.T) {
	stack := newTestStack(t)

	w := stack.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, gin.H{
		"track": gin.H{"uri": "https://cdn.example.com/tracks/song.mp3"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayRejectsBadURI(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodPatch, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, gin.H{
		"track": gin.H{"uri": "https://cdn.example.com/page.html"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDestroyPlayer(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodDelete, "/v4/sessions/"+testSessionID+"/players/"+testGuildID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	_, ok := stack.manager.GetConnectionInfo(domain.GuildID(testGuildID))
	assert.False(t, ok)

	session, err := stack.sessions.Get(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.NotContains(t, session.Guilds, domain.GuildID(testGuildID))
}

func TestAdminQualityPreset(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodPost, "/v4/admin/guilds/"+testGuildID+"/quality/preset", gin.H{"preset": "low"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var state struct {
		Preset string `json:"preset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "low", state.Preset)

	// Unknown presets are rejected.
	w = stack.request(t, http.MethodPost, "/v4/admin/guilds/"+testGuildID+"/quality/preset", gin.H{"preset": "ultra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRecoveryAndCircuitBreaker(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodGet, "/v4/admin/guilds/"+testGuildID+"/recovery", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = stack.request(t, http.MethodPost, "/v4/admin/guilds/"+testGuildID+"/circuit-breaker/close", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = stack.request(t, http.MethodPost, "/v4/admin/guilds/"+testGuildID+"/recovery/reset", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminAlertAckUnknownID(t *testing.T) {
	stack := newTestStack(t)

	w := stack.request(t, http.MethodPost, "/v4/admin/alerts/missing/ack", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsAndVersion(t *testing.T) {
	stack := newTestStack(t)
	stack.connect(t)

	w := stack.request(t, http.MethodGet, "/v4/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Players        int `json:"players"`
		PlayingPlayers int `json:"playingPlayers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Players)
	assert.Equal(t, 0, stats.PlayingPlayers)

	w = stack.request(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev", w.Body.String())
}
