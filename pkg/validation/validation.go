package validation

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	apperrors "voicelink/pkg/errors"
)

const maxTrackURILength = 2048

var (
	// GuildIDRegex validates Discord snowflake IDs
	GuildIDRegex = regexp.MustCompile(`^[0-9]{15,21}$`)

	allowedSchemes = map[string]bool{
		"http":  true,
		"https": true,
		"file":  true,
	}

	allowedExtensions = map[string]bool{
		".mp3":  true,
		".ogg":  true,
		".opus": true,
		".flac": true,
		".wav":  true,
		".m4a":  true,
		".aac":  true,
		".webm": true,
	}
)

// ValidateGuildID validates a guild identifier.
func ValidateGuildID(guildID string) error {
	if guildID == "" {
		return apperrors.NewValidationError("guild_id", "is required")
	}
	if !GuildIDRegex.MatchString(guildID) {
		return apperrors.NewValidationError("guild_id", "must be a numeric snowflake")
	}
	return nil
}

// ValidateVoiceCredentials checks the voice-server update fields. All
// three are required non-empty before any transport is touched.
func ValidateVoiceCredentials(token, endpoint, sessionID string) error {
	if strings.TrimSpace(token) == "" {
		return apperrors.NewValidationError("token", "is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		return apperrors.NewValidationError("endpoint", "is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.NewValidationError("session_id", "is required")
	}
	return nil
}

// ValidateTrackURI checks the shape of a playable URI: scheme, length
// and extension. Content is never fetched here.
func ValidateTrackURI(uri string) error {
	if uri == "" {
		return apperrors.NewValidationError("uri", "is required")
	}
	if len(uri) > maxTrackURILength {
		return apperrors.NewValidationError("uri", "is too long (max 2048 characters)")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return apperrors.NewValidationError("uri", "is not a valid URI")
	}
	if !allowedSchemes[u.Scheme] {
		return apperrors.NewValidationError("uri", "scheme must be http, https or file")
	}
	if u.Scheme != "file" && u.Host == "" {
		return apperrors.NewValidationError("uri", "host is required")
	}

	// An extension is optional (many stream URLs have none), but a known
	// non-audio extension is rejected outright.
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && !allowedExtensions[ext] {
		switch ext {
		case ".html", ".htm", ".php", ".json", ".xml", ".txt", ".exe":
			return apperrors.NewValidationError("uri", "does not point to a supported audio format")
		}
	}

	return nil
}
