package signal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/idgen"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 256
	replayLimit    = 100
)

// Config tunes the signaling server.
type Config struct {
	Password      string
	ResumeSecret  []byte
	ResumeTimeout time.Duration
}

// readyMessage is the first frame sent after a successful upgrade.
type readyMessage struct {
	Op          string `json:"op"`
	Resumed     bool   `json:"resumed"`
	SessionID   string `json:"sessionId"`
	ResumeToken string `json:"resumeToken"`
}

// eventMessage wraps a bus event for the wire.
type eventMessage struct {
	Op    string       `json:"op"`
	Event domain.Event `json:"event"`
}

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan interface{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Server is the websocket signaling endpoint: one connection per
// control session, receiving the filtered event feed. Sessions resume
// within the configured window using a signed token.
type Server struct {
	cfg      Config
	sessions ports.SessionRepository
	bus      ports.EventBus
	ids      idgen.Generator
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	pending map[string]*time.Timer
}

// NewServer creates a signaling server.
func NewServer(cfg Config, sessions ports.SessionRepository, bus ports.EventBus, ids idgen.Generator, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		ids:      ids,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		pending: make(map[string]*time.Timer),
	}
}

// Handle upgrades the request and runs the connection until it closes.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != s.cfg.Password {
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}

	resumed := false
	sessionID := ""
	if token := r.Header.Get("Session-Resume-Token"); token != "" {
		id, err := s.verifyResumeToken(token)
		if err != nil {
			http.Error(w, "invalid resume token", http.StatusForbidden)
			return
		}
		if _, err := s.sessions.Get(r.Context(), id); err != nil {
			http.Error(w, "unknown session", http.StatusForbidden)
			return
		}
		sessionID = id
		resumed = true
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	ctx := context.Background()
	if !resumed {
		sessionID = s.ids.NewID()
		session := &domain.Session{
			ID:        sessionID,
			CreatedAt: time.Now(),
			LastSeen:  time.Now(),
		}
		if err := s.sessions.Save(ctx, session); err != nil {
			s.logger.Errorw("session save failed", "session_id", sessionID, "error", err)
			conn.Close()
			return
		}
	} else {
		s.cancelExpiry(sessionID)
		if session, err := s.sessions.Get(ctx, sessionID); err == nil {
			session.Resuming = false
			session.LastSeen = time.Now()
			_ = s.sessions.Save(ctx, session)
		}
	}

	resumeToken, err := s.issueResumeToken(sessionID)
	if err != nil {
		s.logger.Errorw("resume token issue failed", "session_id", sessionID, "error", err)
		conn.Close()
		return
	}

	cl := &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan interface{}, sendBufferSize),
	}

	s.mu.Lock()
	if old, ok := s.clients[sessionID]; ok {
		old.close()
	}
	s.clients[sessionID] = cl
	s.mu.Unlock()

	cl.send <- readyMessage{
		Op:          "ready",
		Resumed:     resumed,
		SessionID:   sessionID,
		ResumeToken: resumeToken,
	}

	filter := filterFromQuery(r.URL.Query())

	if resumed {
		for _, e := range s.bus.History(filter, replayLimit) {
			select {
			case cl.send <- eventMessage{Op: "event", Event: e}:
			default:
			}
		}
	}

	deliver := func(e domain.Event) {
		select {
		case cl.send <- eventMessage{Op: "event", Event: e}:
		default:
			// Slow consumer: drop rather than stall the bus.
		}
	}

	subID := "ws-" + sessionID
	if err := s.bus.Subscribe(subID, filter, deliver); err != nil {
		// A stale subscription from an earlier connection for the same
		// session; replace it.
		s.bus.Unsubscribe(subID)
		_ = s.bus.Subscribe(subID, filter, deliver)
	}

	s.logger.Infow("websocket session opened", "session_id", sessionID, "resumed", resumed)

	go s.writePump(cl)
	s.readPump(cl, subID)
}

// filterFromQuery builds the subscription filter from query parameters:
// guildIds and categories as comma-separated lists, minSeverity by name,
// and recovery/performance/health booleans. Unknown values are ignored.
func filterFromQuery(q url.Values) domain.EventFilter {
	filter := domain.DefaultFilter()

	if raw := q.Get("guildIds"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.GuildIDs = append(filter.GuildIDs, domain.GuildID(id))
			}
		}
	}
	if raw := q.Get("categories"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				filter.Categories = append(filter.Categories, domain.EventCategory(c))
			}
		}
	}
	if severity, ok := domain.ParseSeverity(q.Get("minSeverity")); ok {
		filter.MinSeverity = severity
	}
	if v, err := strconv.ParseBool(q.Get("recovery")); err == nil {
		filter.IncludeRecovery = v
	}
	if v, err := strconv.ParseBool(q.Get("performance")); err == nil {
		filter.IncludePerformance = v
	}
	if v, err := strconv.ParseBool(q.Get("health")); err == nil {
		filter.IncludeHealth = v
	}
	return filter
}

func (s *Server) readPump(cl *client, subID string) {
	defer func() {
		s.bus.Unsubscribe(subID)
		cl.close()
		cl.conn.Close()
		s.onDisconnect(cl)
	}()

	cl.conn.SetReadLimit(1 << 16)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients do not send application frames; the read loop only
		// services control frames and detects closure.
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// onDisconnect opens the resume window. The session is only deleted if
// no resume arrives before the timeout.
func (s *Server) onDisconnect(cl *client) {
	s.mu.Lock()
	if current, ok := s.clients[cl.sessionID]; ok && current == cl {
		delete(s.clients, cl.sessionID)
	}
	s.mu.Unlock()

	ctx := context.Background()
	session, err := s.sessions.Get(ctx, cl.sessionID)
	if err != nil {
		return
	}
	session.Resuming = true
	session.LastSeen = time.Now()
	_ = s.sessions.Save(ctx, session)

	s.logger.Infow("websocket session suspended",
		"session_id", cl.sessionID,
		"resume_timeout", s.cfg.ResumeTimeout,
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[cl.sessionID]; ok {
		timer.Stop()
	}
	sessionID := cl.sessionID
	s.pending[sessionID] = time.AfterFunc(s.cfg.ResumeTimeout, func() {
		s.expireSession(sessionID)
	})
}

func (s *Server) cancelExpiry(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[sessionID]; ok {
		timer.Stop()
		delete(s.pending, sessionID)
	}
}

func (s *Server) expireSession(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	_, stillConnected := s.clients[sessionID]
	s.mu.Unlock()
	if stillConnected {
		return
	}

	if err := s.sessions.Delete(context.Background(), sessionID); err == nil {
		s.logger.Infow("websocket session expired", "session_id", sessionID)
	}
}

// issueResumeToken signs a short-lived token bound to the session.
func (s *Server) issueResumeToken(sessionID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		Issuer:    "voicelink",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.ResumeSecret)
}

func (s *Server) verifyResumeToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.ResumeSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("missing subject claim")
	}
	return claims.Subject, nil
}

// Shutdown closes every live connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		clients = append(clients, cl)
	}
	for _, timer := range s.pending {
		timer.Stop()
	}
	s.pending = make(map[string]*time.Timer)
	s.mu.Unlock()

	for _, cl := range clients {
		cl.close()
	}
}
