package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	apperrors "voicelink/pkg/errors"
	"voicelink/pkg/idgen"
)

// Voice gateway opcodes, version 4.
const (
	opIdentify           = 0
	opSelectProtocol     = 1
	opReady              = 2
	opHeartbeat          = 3
	opSessionDescription = 4
	opSpeaking           = 5
	opHeartbeatAck       = 6
	opResume             = 7
	opHello              = 8
	opResumed            = 9
)

const (
	encryptionMode    = "xsalsa20_poly1305"
	keepaliveInterval = 5 * time.Second
	rtpPayloadType    = 0x78
	rtpFrameTicks     = 960 // 20ms at 48kHz
)

// opusSilence is the canonical Opus silence frame.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// GatewayConfig tunes the voice gateway client.
type GatewayConfig struct {
	UserID           string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultGatewayConfig returns production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyData struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

type sessionDescriptionData struct {
	Mode      string  `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// GatewayTransport is the real voice connection: a websocket control
// channel plus an encrypted UDP media path. One instance serves one
// guild and is not reusable after Disconnect.
type GatewayTransport struct {
	guildID domain.GuildID
	cfg     GatewayConfig
	events  ports.EventPublisher
	ids     idgen.Generator
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	writeMu sync.Mutex
	ws      *websocket.Conn
	udp     *net.UDPConn
	closed  chan struct{}

	open atomic.Bool

	ssrc      uint32
	secretKey [32]byte
	sequence  uint32
	timestamp uint32

	ackMu     sync.Mutex
	ackWaiter chan struct{}
	lastRTT   atomic.Int64
}

var (
	_ ports.VoiceTransport = (*GatewayTransport)(nil)
	_ ports.Pinger         = (*GatewayTransport)(nil)
)

// NewGatewayTransport creates an unconnected gateway transport.
func NewGatewayTransport(guildID domain.GuildID, cfg GatewayConfig, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *GatewayTransport {
	return &GatewayTransport{
		guildID: guildID,
		cfg:     cfg,
		events:  events,
		ids:     ids,
		logger:  logger,
	}
}

// Connect performs the full voice handshake: websocket dial, Identify,
// Hello, Ready, UDP discovery, Select Protocol and Session Description.
// On success the heartbeat, read and keepalive loops run until close.
func (g *GatewayTransport) Connect(ctx context.Context, info domain.VoiceServerInfo) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open.Load() {
		return nil
	}

	g.publish(domain.EventGatewayConnecting, nil)

	wsURL := gatewayURL(info.Endpoint)
	dialer := websocket.Dialer{HandshakeTimeout: g.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return apperrors.NewVoiceError(apperrors.Temporary, "gateway dial", err)
	}

	handshakeDeadline := time.Now().Add(g.cfg.HandshakeTimeout)
	_ = ws.SetReadDeadline(handshakeDeadline)

	identify := map[string]interface{}{
		"server_id":  g.guildID.String(),
		"user_id":    g.cfg.UserID,
		"session_id": info.SessionID,
		"token":      info.Token,
	}
	if err := g.writeOp(ws, opIdentify, identify); err != nil {
		ws.Close()
		return apperrors.NewVoiceError(apperrors.Temporary, "gateway identify", err)
	}

	var hello helloData
	var ready readyData
	haveHello, haveReady := false, false
	for !haveHello || !haveReady {
		var payload gatewayPayload
		if err := ws.ReadJSON(&payload); err != nil {
			ws.Close()
			return classifyHandshakeError("gateway handshake", err)
		}
		switch payload.Op {
		case opHello:
			if err := json.Unmarshal(payload.Data, &hello); err != nil {
				ws.Close()
				return apperrors.NewVoiceError(apperrors.Permanent, "gateway hello decode", err)
			}
			haveHello = true
		case opReady:
			if err := json.Unmarshal(payload.Data, &ready); err != nil {
				ws.Close()
				return apperrors.NewVoiceError(apperrors.Permanent, "gateway ready decode", err)
			}
			haveReady = true
		}
	}

	if !supportsMode(ready.Modes) {
		ws.Close()
		return apperrors.NewVoiceError(apperrors.Configuration, "gateway mode negotiation",
			fmt.Errorf("server does not offer %s", encryptionMode))
	}

	udp, externalIP, externalPort, err := discoverExternalAddress(ctx, ready)
	if err != nil {
		ws.Close()
		return apperrors.NewVoiceError(apperrors.Temporary, "udp discovery", err)
	}

	selectProtocol := map[string]interface{}{
		"protocol": "udp",
		"data": map[string]interface{}{
			"address": externalIP,
			"port":    externalPort,
			"mode":    encryptionMode,
		},
	}
	if err := g.writeOp(ws, opSelectProtocol, selectProtocol); err != nil {
		udp.Close()
		ws.Close()
		return apperrors.NewVoiceError(apperrors.Temporary, "gateway select protocol", err)
	}

	var desc sessionDescriptionData
	for {
		var payload gatewayPayload
		if err := ws.ReadJSON(&payload); err != nil {
			udp.Close()
			ws.Close()
			return classifyHandshakeError("gateway session description", err)
		}
		if payload.Op != opSessionDescription {
			continue
		}
		if err := json.Unmarshal(payload.Data, &desc); err != nil {
			udp.Close()
			ws.Close()
			return apperrors.NewVoiceError(apperrors.Permanent, "gateway session description decode", err)
		}
		break
	}

	_ = ws.SetReadDeadline(time.Time{})

	g.ws = ws
	g.udp = udp
	g.ssrc = ready.SSRC
	g.secretKey = desc.SecretKey
	g.closed = make(chan struct{})
	g.open.Store(true)

	heartbeatEvery := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	go g.readLoop()
	go g.heartbeatLoop(heartbeatEvery)
	go g.keepaliveLoop()

	g.logger.Infow("voice gateway ready",
		"guild_id", g.guildID,
		"ssrc", ready.SSRC,
		"udp_addr", fmt.Sprintf("%s:%d", ready.IP, ready.Port),
		"heartbeat_interval", heartbeatEvery,
	)
	g.publish(domain.EventGatewayReady, domain.GatewayReadyData{
		SSRC: ready.SSRC,
		IP:   ready.IP,
		Port: ready.Port,
	})
	return nil
}

// gatewayURL normalizes an endpoint like "host:443" to the v4 wss URL.
func gatewayURL(endpoint string) string {
	host := endpoint
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	u := url.URL{Scheme: "wss", Host: host, RawQuery: "v=4"}
	return u.String()
}

func supportsMode(modes []string) bool {
	for _, m := range modes {
		if m == encryptionMode {
			return true
		}
	}
	return false
}

// classifyHandshakeError separates auth rejections from transient
// failures so the retry policy treats them differently.
func classifyHandshakeError(op string, err error) error {
	if websocket.IsCloseError(err, 4004) {
		return apperrors.NewVoiceError(apperrors.Authentication, op, err)
	}
	if websocket.IsCloseError(err, 4014, 4006, 4009) {
		return apperrors.NewVoiceError(apperrors.Permanent, op, err)
	}
	return apperrors.NewVoiceError(apperrors.Temporary, op, err)
}

// discoverExternalAddress runs the 74-byte IP discovery exchange over
// the freshly bound UDP socket.
func discoverExternalAddress(ctx context.Context, ready readyData) (*net.UDPConn, string, int, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ready.IP, ready.Port))
	if err != nil {
		return nil, "", 0, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, "", 0, err
	}

	packet := make([]byte, 74)
	binary.BigEndian.PutUint16(packet[0:2], 0x1)
	binary.BigEndian.PutUint16(packet[2:4], 70)
	binary.BigEndian.PutUint32(packet[4:8], ready.SSRC)

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(packet); err != nil {
		conn.Close()
		return nil, "", 0, err
	}

	response := make([]byte, 74)
	n, err := conn.Read(response)
	if err != nil {
		conn.Close()
		return nil, "", 0, err
	}
	if n < 74 {
		conn.Close()
		return nil, "", 0, fmt.Errorf("short discovery response: %d bytes", n)
	}

	ip := strings.TrimRight(string(response[8:72]), "\x00")
	port := int(binary.BigEndian.Uint16(response[72:74]))

	_ = conn.SetDeadline(time.Time{})
	return conn, ip, port, nil
}

func (g *GatewayTransport) writeOp(ws *websocket.Conn, op int, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	return ws.WriteJSON(gatewayPayload{Op: op, Data: raw})
}

// readLoop dispatches incoming control payloads until the socket dies.
func (g *GatewayTransport) readLoop() {
	for {
		var payload gatewayPayload
		if err := g.ws.ReadJSON(&payload); err != nil {
			g.closeWith(err)
			return
		}

		switch payload.Op {
		case opHeartbeatAck:
			g.resolveAck()
		case opSpeaking, opResumed:
			// No local state to update.
		default:
			g.logger.Debugw("unhandled gateway op", "guild_id", g.guildID, "op", payload.Op)
		}
	}
}

// heartbeatLoop sends heartbeats and watches for missed acks. Two
// missed intervals count as a lost connection.
func (g *GatewayTransport) heartbeatLoop(every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-g.closed:
			return
		case <-ticker.C:
			waiter := g.awaitAck()
			sent := time.Now()
			if err := g.writeOp(g.ws, opHeartbeat, sent.UnixMilli()); err != nil {
				g.publish(domain.EventGatewayHeartbeatLost, nil)
				g.closeWith(err)
				return
			}

			select {
			case <-g.closed:
				return
			case <-waiter:
				rtt := time.Since(sent)
				g.lastRTT.Store(int64(rtt))
				g.publish(domain.EventPingRecorded, domain.PingData{
					LatencyMs: float64(rtt.Microseconds()) / 1000,
				})
			case <-time.After(2 * every):
				g.logger.Warnw("voice heartbeat ack missed", "guild_id", g.guildID)
				g.publish(domain.EventGatewayHeartbeatLost, nil)
				g.closeWith(fmt.Errorf("heartbeat ack timeout"))
				return
			}
		}
	}
}

// awaitAck registers a one-shot waiter signalled by the next ack. The
// caller measures elapsed time itself.
func (g *GatewayTransport) awaitAck() chan struct{} {
	g.ackMu.Lock()
	defer g.ackMu.Unlock()
	g.ackWaiter = make(chan struct{}, 1)
	return g.ackWaiter
}

func (g *GatewayTransport) resolveAck() {
	g.ackMu.Lock()
	waiter := g.ackWaiter
	g.ackWaiter = nil
	g.ackMu.Unlock()
	if waiter != nil {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// keepaliveLoop sends encrypted silence frames so NAT mappings and the
// server's media path stay warm between real audio.
func (g *GatewayTransport) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closed:
			return
		case <-ticker.C:
			if err := g.sendSilenceFrame(); err != nil {
				g.logger.Debugw("keepalive frame failed", "guild_id", g.guildID, "error", err)
			}
		}
	}
}

// sendSilenceFrame encrypts one Opus silence frame with the session key
// and ships it as RTP. The 24-byte nonce is the RTP header zero-padded.
func (g *GatewayTransport) sendSilenceFrame() error {
	seq := uint16(atomic.AddUint32(&g.sequence, 1))
	ts := atomic.AddUint32(&g.timestamp, rtpFrameTicks)

	header := rtp.Header{
		Version:        2,
		PayloadType:    rtpPayloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           g.ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return err
	}

	var nonce [24]byte
	copy(nonce[:], headerBytes)

	packet := secretbox.Seal(headerBytes, opusSilence, &nonce, &g.secretKey)
	_, err = g.udp.Write(packet)
	return err
}

// Ping sends an immediate heartbeat and waits for its ack, returning
// the measured round trip.
func (g *GatewayTransport) Ping(ctx context.Context) (time.Duration, error) {
	if !g.open.Load() {
		return 0, domain.ErrTransportClosed
	}

	waiter := g.awaitAck()
	start := time.Now()
	if err := g.writeOp(g.ws, opHeartbeat, start.UnixMilli()); err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-g.closed:
		return 0, domain.ErrTransportClosed
	case <-waiter:
		rtt := time.Since(start)
		g.lastRTT.Store(int64(rtt))
		return rtt, nil
	}
}

// LastRTT returns the most recent heartbeat round trip.
func (g *GatewayTransport) LastRTT() time.Duration {
	return time.Duration(g.lastRTT.Load())
}

// IsOpen reports whether the control and media channels are up.
func (g *GatewayTransport) IsOpen() bool {
	return g.open.Load()
}

// closeWith tears the connection down after a fatal read or heartbeat
// error. Idempotent with Disconnect.
func (g *GatewayTransport) closeWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open.Load() {
		return
	}
	g.open.Store(false)
	close(g.closed)
	if g.ws != nil {
		g.ws.Close()
	}
	if g.udp != nil {
		g.udp.Close()
	}

	g.logger.Warnw("voice gateway closed", "guild_id", g.guildID, "error", err)
	g.publish(domain.EventGatewayClosed, nil)
}

// Disconnect closes both channels cleanly.
func (g *GatewayTransport) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open.Load() {
		return nil
	}
	g.open.Store(false)
	close(g.closed)

	g.writeMu.Lock()
	_ = g.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	g.writeMu.Unlock()

	wsErr := g.ws.Close()
	udpErr := g.udp.Close()

	g.publish(domain.EventGatewayClosed, nil)
	if wsErr != nil {
		return wsErr
	}
	return udpErr
}

func (g *GatewayTransport) publish(t domain.EventType, data interface{}) {
	if g.events == nil {
		return
	}
	g.events.Publish(domain.Event{
		ID:        g.ids.NewID(),
		Type:      t,
		GuildID:   g.guildID,
		Timestamp: time.Now(),
		Data:      data,
	})
}
