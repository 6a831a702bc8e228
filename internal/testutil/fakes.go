// Package testutil holds in-memory stand-ins for the postgres and redis backed
// stores, shared by package tests that exercise the pipeline end to end.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PocketPalCo/attribution-service/internal/core/messages"
	"github.com/PocketPalCo/attribution-service/internal/core/tracking"
	"github.com/PocketPalCo/attribution-service/internal/core/users"
	"github.com/google/uuid"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ClickStore implements tracking.Store in memory.
type ClickStore struct {
	mu     sync.Mutex
	clicks []tracking.ClickRecord
	Err    error
}

func NewClickStore() *ClickStore {
	return &ClickStore{}
}

func (s *ClickStore) InsertClick(_ context.Context, click *tracking.ClickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.clicks = append(s.clicks, *click)
	return nil
}

func (s *ClickStore) UpdateCookies(_ context.Context, welcomeMessageID, telegramUserID string, fbc, fbp *string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var updated int64
	for i := range s.clicks {
		c := &s.clicks[i]
		if c.WelcomeMessageID != welcomeMessageID || c.TelegramUserID != telegramUserID || c.ClickedAt.Before(since) {
			continue
		}
		if fbc != nil {
			v := *fbc
			c.FBC = &v
		}
		if fbp != nil {
			v := *fbp
			c.FBP = &v
		}
		updated++
	}
	return updated, nil
}

func (s *ClickStore) LatestClickSince(_ context.Context, telegramUserID string, since time.Time) (*tracking.ClickRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var latest *tracking.ClickRecord
	for i := range s.clicks {
		c := &s.clicks[i]
		if c.TelegramUserID != telegramUserID || c.ClickedAt.Before(since) {
			continue
		}
		if latest == nil || c.ClickedAt.After(latest.ClickedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *ClickStore) GetClick(_ context.Context, id uuid.UUID) (*tracking.ClickRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clicks {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

// Add inserts a click as-is, bypassing the recorder.
func (s *ClickStore) Add(click tracking.ClickRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if click.ID == uuid.Nil {
		click.ID = uuid.New()
	}
	s.clicks = append(s.clicks, click)
}

func (s *ClickStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clicks)
}

// UserStore keeps bot users in memory.
type UserStore struct {
	mu    sync.Mutex
	users map[string]users.User
	Err   error
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]users.User)}
}

func (s *UserStore) GetUserByTelegramID(_ context.Context, telegramUserID string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[telegramUserID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) RegisterUser(_ context.Context, req users.RegistrationRequest) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[req.TelegramUserID]
	if !ok {
		u = users.User{TelegramUserID: req.TelegramUserID, ChannelStatus: users.ChannelNotJoined}
	}
	if req.FirstName != "" {
		first := req.FirstName
		u.FirstName = &first
	}
	if req.Username != "" {
		username := req.Username
		u.Username = &username
	}
	s.users[req.TelegramUserID] = u
	return &u, nil
}

func (s *UserStore) UpdateChannelStatus(_ context.Context, telegramUserID string, status users.ChannelStatus, joinedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.users[telegramUserID]
	if !ok {
		return fmt.Errorf("%w: %s", users.ErrUserNotFound, telegramUserID)
	}
	u.ChannelStatus = status
	if joinedAt != nil {
		t := *joinedAt
		u.ChannelJoinedAt = &t
	}
	s.users[telegramUserID] = u
	return nil
}

// Put seeds a user.
func (s *UserStore) Put(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ChannelStatus == "" {
		u.ChannelStatus = users.ChannelNotJoined
	}
	s.users[u.TelegramUserID] = u
}

// Messages implements tracking.MessageLookup over a fixed set.
type Messages map[string]*messages.WelcomeMessage

func (m Messages) GetByID(_ context.Context, id string) (*messages.WelcomeMessage, error) {
	return m[id], nil
}

func (m Messages) GetActive(_ context.Context) (*messages.WelcomeMessage, error) {
	for _, msg := range m {
		if msg.IsActive {
			return msg, nil
		}
	}
	return nil, nil
}

// Ledger implements conversion.Ledger in memory.
type Ledger struct {
	mu      sync.Mutex
	claimed map[string]bool
	Err     error
}

func NewLedger() *Ledger {
	return &Ledger{claimed: make(map[string]bool)}
}

func (l *Ledger) Claim(_ context.Context, telegramUserID string, day time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	key := telegramUserID + ":" + day.UTC().Format("2006-01-02")
	if l.claimed[key] {
		return false, nil
	}
	l.claimed[key] = true
	return true, nil
}
