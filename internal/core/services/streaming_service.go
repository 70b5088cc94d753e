package services

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/idgen"
	"voicelink/pkg/retry"
	"voicelink/pkg/validation"
)

// StreamingConfig tunes stream startup retries and health monitoring.
type StreamingConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Multiplier      float64
	JitterFactor    float64
	MonitorInterval time.Duration
	MinHealthScore  float64
}

// DefaultStreamingConfig returns production defaults.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		MaxRetries:      3,
		InitialBackoff:  250 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.2,
		MonitorInterval: 5 * time.Second,
		MinHealthScore:  40,
	}
}

type activeStream struct {
	mu      sync.Mutex
	session domain.StreamingSession
	input   ports.AudioInput
}

// StreamNotifier receives stream health drops. Registered by the
// layer that owns reconnect decisions.
type StreamNotifier func(guildID domain.GuildID, session domain.StreamingSession)

// StreamingManager owns at most one streaming session per guild: start
// with retried input creation, incident counters, a periodic health
// score, and reaction to quality preset changes.
type StreamingManager struct {
	cfg     StreamingConfig
	inputs  ports.AudioInputFactory
	quality *QualityManager
	events  ports.EventPublisher
	ids     idgen.Generator
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	streams  map[domain.GuildID]*activeStream
	notifier StreamNotifier
}

// NewStreamingManager creates a streaming manager.
func NewStreamingManager(cfg StreamingConfig, inputs ports.AudioInputFactory, quality *QualityManager, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *StreamingManager {
	m := &StreamingManager{
		cfg:     cfg,
		inputs:  inputs,
		quality: quality,
		events:  events,
		ids:     ids,
		logger:  logger,
		streams: make(map[domain.GuildID]*activeStream),
	}
	if quality != nil {
		quality.RegisterObserver(m.handleQualityChange)
	}
	return m
}

// SetNotifier registers the health-drop callback.
func (m *StreamingManager) SetNotifier(fn StreamNotifier) {
	m.mu.Lock()
	m.notifier = fn
	m.mu.Unlock()
}

// StartStream validates the track URI, opens the audio input with
// retries and replaces any existing stream for the guild.
func (m *StreamingManager) StartStream(ctx context.Context, guildID domain.GuildID, trackURI string) (domain.StreamingSession, error) {
	if err := validation.ValidateTrackURI(trackURI); err != nil {
		return domain.StreamingSession{}, err
	}

	// A new track replaces the old stream outright.
	_ = m.StopStream(ctx, guildID)

	qualityConfig := domain.AudioQualityConfig{}
	if m.quality != nil {
		if cfg, ok := m.quality.GetEffectiveConfig(guildID); ok {
			qualityConfig = cfg
		}
	}

	stream := &activeStream{
		session: domain.StreamingSession{
			GuildID:       guildID,
			TrackURI:      trackURI,
			QualityConfig: qualityConfig,
			State:         domain.StreamInitializing,
			StartedAt:     time.Now(),
			HealthScore:   100,
		},
	}

	m.mu.Lock()
	m.streams[guildID] = stream
	m.mu.Unlock()

	m.publish(guildID, domain.EventAudioStreamBuffering, domain.StreamData{
		TrackURI: trackURI,
		State:    string(domain.StreamBuffering),
	})

	retryCfg := retry.Config{
		MaxRetries:     m.cfg.MaxRetries,
		InitialBackoff: m.cfg.InitialBackoff,
		MaxBackoff:     m.cfg.MaxBackoff,
		Multiplier:     m.cfg.Multiplier,
		JitterFactor:   m.cfg.JitterFactor,
	}

	var input ports.AudioInput
	err := retry.Do(ctx, retryCfg, func(error) bool { return true }, func(attempt int) error {
		stream.mu.Lock()
		stream.session.RetryCount = attempt - 1
		stream.session.State = domain.StreamBuffering
		stream.mu.Unlock()

		created, err := m.inputs.CreateInput(ctx, trackURI)
		if err != nil {
			m.logger.Warnw("audio input creation failed",
				"guild_id", guildID,
				"track_uri", trackURI,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		input = created
		return nil
	})

	stream.mu.Lock()
	defer stream.mu.Unlock()

	if err != nil {
		stream.session.State = domain.StreamError
		m.publish(guildID, domain.EventAudioStreamError, domain.StreamData{
			TrackURI: trackURI,
			State:    string(domain.StreamError),
			Error:    err.Error(),
		})
		return stream.session, err
	}

	stream.input = input
	stream.session.State = domain.StreamPlaying

	m.logger.Infow("stream started",
		"guild_id", guildID,
		"track_uri", trackURI,
		"content_type", input.ContentType(),
		"preset", qualityConfig.Preset,
	)
	m.publish(guildID, domain.EventAudioInputCreated, domain.StreamData{TrackURI: trackURI})
	m.publish(guildID, domain.EventAudioStreamStarted, domain.StreamData{
		TrackURI: trackURI,
		State:    string(domain.StreamPlaying),
	})
	return stream.session, nil
}

// StopStream ends and forgets the guild's stream. Returns
// ErrNoActiveStream when there is none.
func (m *StreamingManager) StopStream(ctx context.Context, guildID domain.GuildID) error {
	m.mu.Lock()
	stream, ok := m.streams[guildID]
	if ok {
		delete(m.streams, guildID)
	}
	m.mu.Unlock()

	if !ok {
		return domain.ErrNoActiveStream
	}

	stream.mu.Lock()
	stream.session.State = domain.StreamEnded
	stream.session.Duration = time.Since(stream.session.StartedAt)
	input := stream.input
	session := stream.session
	stream.mu.Unlock()

	if input != nil {
		if err := input.Close(); err != nil {
			m.logger.Warnw("audio input close failed", "guild_id", guildID, "error", err)
		}
	}

	m.logger.Infow("stream stopped",
		"guild_id", guildID,
		"track_uri", session.TrackURI,
		"duration", session.Duration,
	)
	m.publish(guildID, domain.EventAudioStreamEnded, domain.StreamData{
		TrackURI: session.TrackURI,
		State:    string(domain.StreamEnded),
	})
	return nil
}

func (m *StreamingManager) stream(guildID domain.GuildID) (*activeStream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[guildID]
	return s, ok
}

// RecordBufferUnderrun counts a buffer underrun incident.
func (m *StreamingManager) RecordBufferUnderrun(guildID domain.GuildID) {
	if s, ok := m.stream(guildID); ok {
		s.mu.Lock()
		s.session.BufferUnderruns++
		s.mu.Unlock()
	}
}

// RecordConnectionDrop counts a connection drop incident and flips the
// stream into the recovering state.
func (m *StreamingManager) RecordConnectionDrop(guildID domain.GuildID) {
	if s, ok := m.stream(guildID); ok {
		s.mu.Lock()
		s.session.ConnectionDrops++
		if s.session.State == domain.StreamPlaying {
			s.session.State = domain.StreamRecovering
		}
		s.mu.Unlock()
	}
}

// MarkPlaying returns a recovering stream to the playing state.
func (m *StreamingManager) MarkPlaying(guildID domain.GuildID) {
	if s, ok := m.stream(guildID); ok {
		s.mu.Lock()
		if s.session.State == domain.StreamRecovering || s.session.State == domain.StreamBuffering {
			s.session.State = domain.StreamPlaying
		}
		s.mu.Unlock()
	}
}

// handleQualityChange re-tags active streams with the new effective
// config and counts downward moves as degradations.
func (m *StreamingManager) handleQualityChange(guildID domain.GuildID, cfg domain.AudioQualityConfig) {
	s, ok := m.stream(guildID)
	if !ok {
		return
	}

	s.mu.Lock()
	previous := s.session.QualityConfig
	s.session.QualityConfig = cfg
	if cfg.Preset.Rank() >= 0 && previous.Preset.Rank() > cfg.Preset.Rank() {
		s.session.QualityDegradations++
	}
	s.mu.Unlock()
}

// streamHealthScore starts at 100 with saturating penalties per
// incident class, floored at 0.
func streamHealthScore(s domain.StreamingSession) float64 {
	score := 100.0
	score -= math.Min(30, float64(s.BufferUnderruns)*5)
	score -= math.Min(40, float64(s.ConnectionDrops)*10)
	score -= math.Min(30, float64(s.QualityDegradations)*5)
	if score < 0 {
		score = 0
	}
	return score
}

// Start runs the periodic stream health loop.
func (m *StreamingManager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkStreams()
		}
	}
}

func (m *StreamingManager) checkStreams() {
	m.mu.RLock()
	streams := make(map[domain.GuildID]*activeStream, len(m.streams))
	for id, s := range m.streams {
		streams[id] = s
	}
	notifier := m.notifier
	m.mu.RUnlock()

	for guildID, s := range streams {
		s.mu.Lock()
		s.session.Duration = time.Since(s.session.StartedAt)
		s.session.HealthScore = streamHealthScore(s.session)
		session := s.session
		s.mu.Unlock()

		if session.HealthScore < m.cfg.MinHealthScore && notifier != nil {
			m.logger.Warnw("stream health below threshold",
				"guild_id", guildID,
				"health_score", session.HealthScore,
				"underruns", session.BufferUnderruns,
				"drops", session.ConnectionDrops,
			)
			notifier(guildID, session)
		}
	}
}

// GetStream returns a snapshot of the guild's streaming session.
func (m *StreamingManager) GetStream(guildID domain.GuildID) (domain.StreamingSession, bool) {
	s, ok := m.stream(guildID)
	if !ok {
		return domain.StreamingSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.session
	session.Duration = time.Since(session.StartedAt)
	session.HealthScore = streamHealthScore(session)
	return session, true
}

// ActiveStreams returns snapshots of every active stream.
func (m *StreamingManager) ActiveStreams() []domain.StreamingSession {
	m.mu.RLock()
	streams := make([]*activeStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	out := make([]domain.StreamingSession, 0, len(streams))
	for _, s := range streams {
		s.mu.Lock()
		session := s.session
		s.mu.Unlock()
		out = append(out, session)
	}
	return out
}

// Shutdown stops every active stream.
func (m *StreamingManager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	guilds := make([]domain.GuildID, 0, len(m.streams))
	for id := range m.streams {
		guilds = append(guilds, id)
	}
	m.mu.RUnlock()

	for _, guildID := range guilds {
		_ = m.StopStream(ctx, guildID)
	}
}

func (m *StreamingManager) publish(guildID domain.GuildID, t domain.EventType, data interface{}) {
	if m.events == nil {
		return
	}
	m.events.Publish(domain.Event{
		ID:        m.ids.NewID(),
		Type:      t,
		GuildID:   guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}
