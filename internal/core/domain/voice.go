package domain

// GuildID identifies a Discord guild, the unit of isolation for all
// connection, health and quality state.
type GuildID string

func (g GuildID) String() string {
	return string(g)
}

// VoiceServerInfo carries the credentials delivered by the signaling
// layer on a voice-server update. All three fields are required.
type VoiceServerInfo struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}
