package domain

import "time"

// StreamState is the lifecycle state of a guild's active stream.
type StreamState string

const (
	StreamInitializing StreamState = "initializing"
	StreamBuffering    StreamState = "buffering"
	StreamPlaying      StreamState = "playing"
	StreamError        StreamState = "error"
	StreamRecovering   StreamState = "recovering"
	StreamEnded        StreamState = "ended"
)

// StreamingSession is the single active stream per guild.
type StreamingSession struct {
	GuildID             GuildID            `json:"guildId"`
	TrackURI            string             `json:"trackUri"`
	QualityConfig       AudioQualityConfig `json:"qualityConfig"`
	State               StreamState        `json:"state"`
	RetryCount          int                `json:"retryCount"`
	HealthScore         float64            `json:"healthScore"`
	StartedAt           time.Time          `json:"startedAt"`
	Duration            time.Duration      `json:"duration"`
	BufferUnderruns     int                `json:"bufferUnderruns"`
	ConnectionDrops     int                `json:"connectionDrops"`
	QualityDegradations int                `json:"qualityDegradations"`
}

// Session is the control-API session owning zero or more guild players.
type Session struct {
	ID        string    `json:"id"`
	Resuming  bool      `json:"resuming"`
	Guilds    []GuildID `json:"guilds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}
