package signal

import (
	"net/url"
	"testing"
	"time"

	"voicelink/internal/core/domain"
	"voicelink/internal/infrastructure/events"
	"voicelink/internal/infrastructure/repositories/memory"
	"voicelink/pkg/idgen"
	"voicelink/pkg/logger"
)

func newTestSignalServer() *Server {
	return NewServer(Config{
		Password:      "secret",
		ResumeSecret:  []byte("secret"),
		ResumeTimeout: time.Minute,
	}, memory.NewSessionRepository(), events.NewBus(logger.NewNop()), idgen.NewSequenceGenerator("session"), logger.NewNop())
}

func TestResumeTokenRoundTrip(t *testing.T) {
	s := newTestSignalServer()

	token, err := s.issueResumeToken("session-1")
	if err != nil {
		t.Fatalf("issueResumeToken() = %v", err)
	}

	id, err := s.verifyResumeToken(token)
	if err != nil {
		t.Fatalf("verifyResumeToken() = %v", err)
	}
	if id != "session-1" {
		t.Fatalf("subject = %q, want session-1", id)
	}
}

func TestResumeTokenRejectsWrongSecret(t *testing.T) {
	s := newTestSignalServer()
	other := newTestSignalServer()
	other.cfg.ResumeSecret = []byte("different")

	token, err := other.issueResumeToken("session-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.verifyResumeToken(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
	if _, err := s.verifyResumeToken("not-a-token"); err == nil {
		t.Fatal("malformed token accepted")
	}
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("guildIds", "111111111111111111, 222222222222222222")
	q.Set("categories", "health,quality")
	q.Set("minSeverity", "warning")
	q.Set("performance", "false")

	filter := filterFromQuery(q)
	if len(filter.GuildIDs) != 2 || filter.GuildIDs[1] != domain.GuildID("222222222222222222") {
		t.Fatalf("guild ids = %v", filter.GuildIDs)
	}
	if len(filter.Categories) != 2 || filter.Categories[0] != domain.CategoryHealth {
		t.Fatalf("categories = %v", filter.Categories)
	}
	if filter.MinSeverity != domain.SeverityWarning {
		t.Fatalf("min severity = %v", filter.MinSeverity)
	}
	if filter.IncludePerformance {
		t.Fatal("performance not disabled")
	}
	if !filter.IncludeRecovery || !filter.IncludeHealth {
		t.Fatal("untouched include flags should keep defaults")
	}
}

func TestFilterFromQueryDefaults(t *testing.T) {
	filter := filterFromQuery(url.Values{})
	if len(filter.GuildIDs) != 0 || len(filter.Categories) != 0 {
		t.Fatalf("empty query filter = %+v, want defaults", filter)
	}
	if filter.MinSeverity != domain.SeverityInfo {
		t.Fatalf("min severity = %v, want info", filter.MinSeverity)
	}
	if !filter.IncludeRecovery || !filter.IncludePerformance || !filter.IncludeHealth {
		t.Fatalf("include flags = %+v, want all true", filter)
	}
}
