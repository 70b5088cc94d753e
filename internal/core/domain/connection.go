package domain

import "time"

// ConnectionInfo is the pool's bookkeeping for one guild connection.
type ConnectionInfo struct {
	GuildID            GuildID   `json:"guildId"`
	ChannelID          string    `json:"channelId"`
	UserID             string    `json:"userId"`
	CreatedAt          time.Time `json:"createdAt"`
	LastUsed           time.Time `json:"lastUsed"`
	ConnectionAttempts int       `json:"connectionAttempts"`
	IsActive           bool      `json:"isActive"`
	IsHealthy          bool      `json:"isHealthy"`
}

// PoolMetrics is the pool-wide counter snapshot.
type PoolMetrics struct {
	ActiveConnections     int     `json:"activeConnections"`
	TotalConnections      int     `json:"totalConnections"`
	SuccessfulConnections int     `json:"successfulConnections"`
	FailedConnections     int     `json:"failedConnections"`
	AvgConnectTimeMs      float64 `json:"avgConnectTimeMs"`
	IdleEvictions         int     `json:"idleEvictions"`
}
