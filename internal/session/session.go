package session

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/tenant"
)

// Session is process-lifetime conversation state for one (platform, tenant,
// user) key. The context window here is a bounded cache for the upstream
// call; the durable log in the store is the source of truth. The lifetime
// message counter is loaded from the store and never decreases.
//
// The owning API key id is fixed at creation and never reassigned.
type Session struct {
	id       string
	key      string
	platform string
	userID   string
	tenantID *int64
	apiKeyID *int64

	mu            sync.Mutex
	config        tenant.Config
	currentModel  string
	history       []models.Turn
	totalMessages int
	createdAt     time.Time
	lastActivity  time.Time

	now func() time.Time
}

// Key builds the registry key. The tenant id is part of the key so two
// tenants sharing a user identifier can never collide on one session.
func Key(platform string, tenantID *int64, userID string) string {
	if tenantID != nil {
		return fmt.Sprintf("%s:%d:%s", platform, *tenantID, userID)
	}
	return fmt.Sprintf("%s:%s", platform, userID)
}

// MaskID shortens a session id for logging.
func MaskID(id string) string {
	const show = 8
	if len(id) <= show {
		return id
	}
	return id[:show] + "..."
}

func newSession(platform, userID string, tenantID, apiKeyID *int64, cfg tenant.Config, history []models.Turn, totalMessages int, clock func() time.Time) *Session {
	key := Key(platform, tenantID, userID)
	sum := md5.Sum([]byte(key))
	now := clock().UTC()

	return &Session{
		id:            hex.EncodeToString(sum[:]),
		key:           key,
		platform:      platform,
		userID:        userID,
		tenantID:      tenantID,
		apiKeyID:      apiKeyID,
		config:        cfg,
		currentModel:  cfg.Model,
		history:       history,
		totalMessages: totalMessages,
		createdAt:     now,
		lastActivity:  now,
		now:           clock,
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Platform() string { return s.platform }
func (s *Session) UserID() string   { return s.userID }
func (s *Session) TenantID() *int64 { return s.tenantID }
func (s *Session) APIKeyID() *int64 { return s.apiKeyID }

func (s *Session) Config() tenant.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentModel
}

// SetModel switches the current model. Callers validate availability first.
func (s *Session) SetModel(technical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentModel = technical
}

// AppendTurn adds one turn to the context window, advances last-activity and
// trims the window to 2x max history (room for both roles). It does not
// touch the lifetime counter; that is re-derived from the store after a
// durable write.
func (s *Session) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, models.Turn{Role: role, Content: content})
	if limit := s.config.MaxHistory * 2; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.lastActivity = s.now().UTC()
}

// RecentHistory returns up to max trailing turns as a copy.
func (s *Session) RecentHistory(max int) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.history) > max {
		start = len(s.history) - max
	}
	out := make([]models.Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// ClearHistory empties the in-memory context window only. Durable rows and
// the lifetime counter are untouched.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:0]
}

func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) TotalMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalMessages
}

// SetTotalMessages refreshes the lifetime counter from the store. The
// counter is monotone: a smaller value (a failed durable write, a lagging
// replica) never rolls it back.
func (s *Session) SetTotalMessages(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.totalMessages {
		s.totalMessages = n
	}
}

func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }
