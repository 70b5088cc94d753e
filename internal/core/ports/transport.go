package ports

import (
	"context"
	"time"

	"voicelink/internal/core/domain"
)

// VoiceTransport is the capability hiding the real voice-gateway client.
// The core is written against this interface only; which implementation
// is active is decided at composition time.
type VoiceTransport interface {
	Connect(ctx context.Context, info domain.VoiceServerInfo) error
	Disconnect(ctx context.Context) error
	IsOpen() bool
}

// Pinger is optionally implemented by transports that can measure a
// round trip. The health monitor probes it when available.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// TransportFactory creates one transport handle per guild.
type TransportFactory interface {
	NewTransport(guildID domain.GuildID) VoiceTransport
}
