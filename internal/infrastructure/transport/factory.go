package transport

import (
	"go.uber.org/zap"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/pkg/idgen"
)

// GatewayFactory builds one gateway transport per guild.
type GatewayFactory struct {
	cfg    GatewayConfig
	events ports.EventPublisher
	ids    idgen.Generator
	logger *zap.SugaredLogger
}

var _ ports.TransportFactory = (*GatewayFactory)(nil)

func NewGatewayFactory(cfg GatewayConfig, events ports.EventPublisher, ids idgen.Generator, logger *zap.SugaredLogger) *GatewayFactory {
	return &GatewayFactory{cfg: cfg, events: events, ids: ids, logger: logger}
}

func (f *GatewayFactory) NewTransport(guildID domain.GuildID) ports.VoiceTransport {
	return NewGatewayTransport(guildID, f.cfg, f.events, f.ids, f.logger)
}

// NoopFactory builds no-op transports.
type NoopFactory struct{}

var _ ports.TransportFactory = (*NoopFactory)(nil)

func NewNoopFactory() *NoopFactory {
	return &NoopFactory{}
}

func (f *NoopFactory) NewTransport(guildID domain.GuildID) ports.VoiceTransport {
	return NewNoopTransport()
}
