// Package servicestest provides in-memory repositories and a wired service
// stack for tests of the services and handlers packages.
package servicestest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/store"
	"github.com/headless-cms/authserver/types"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// UserStore is an in-memory services.UserRepository.
type UserStore struct {
	mu    sync.Mutex
	users map[string]types.User
	// Err, when set, is returned by every call.
	Err error
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]types.User)}
}

func (s *UserStore) GetByID(_ context.Context, id string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	user, ok := s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (s *UserStore) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return s.taken(email, username, ""), nil
}

func (s *UserStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.users), nil
}

func (s *UserStore) Create(_ context.Context, user types.User) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	if s.taken(user.Email, user.Username, "") {
		return types.User{}, store.ErrConflict
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) Update(_ context.Context, user types.User) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.User{}, s.Err
	}
	if _, ok := s.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	if s.taken(user.Email, user.Username, user.ID) {
		return types.User{}, store.ErrConflict
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = user
	return user, nil
}

func (s *UserStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.LastLoginAt = &at
	s.users[id] = user
	return nil
}

func (s *UserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// Put stores user as is, replacing any user with the same ID.
func (s *UserStore) Put(user types.User) types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.users[user.ID] = user
	return user
}

func (s *UserStore) taken(email, username, exceptID string) bool {
	for id, existing := range s.users {
		if id == exceptID {
			continue
		}
		if existing.Email == email || existing.Username == username {
			return true
		}
	}
	return false
}

// OTPStore is an in-memory services.OTPRepository.
type OTPStore struct {
	mu    sync.Mutex
	codes []types.OTPCode
}

func NewOTPStore() *OTPStore {
	return &OTPStore{}
}

func (s *OTPStore) Replace(_ context.Context, code types.OTPCode) (types.OTPCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.codes[:0]
	for _, existing := range s.codes {
		if existing.UserEmail == code.UserEmail && !existing.Used {
			continue
		}
		kept = append(kept, existing)
	}
	s.codes = kept
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	code.Attempts = 0
	code.Used = false
	s.codes = append(s.codes, code)
	return code, nil
}

func (s *OTPStore) Latest(_ context.Context, email string) (types.OTPCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.codes) - 1; i >= 0; i-- {
		if s.codes[i].UserEmail == email && !s.codes[i].Used {
			return s.codes[i], nil
		}
	}
	return types.OTPCode{}, store.ErrNotFound
}

func (s *OTPStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].ID == id && !s.codes[i].Used {
			s.codes[i].Attempts++
			return s.codes[i].Attempts, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *OTPStore) Consume(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		code := &s.codes[i]
		if code.ID != id {
			continue
		}
		if code.Used || code.Attempts >= code.MaxAttempts || !code.ExpiresAt.After(now) {
			return store.ErrNotFound
		}
		code.Used = true
		usedAt := now
		code.UsedAt = &usedAt
		return nil
	}
	return store.ErrNotFound
}

func (s *OTPStore) DeleteExpired(_ context.Context, now, usedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.codes[:0]
	for _, code := range s.codes {
		if code.ExpiresAt.Before(now) || (code.Used && code.UsedAt != nil && code.UsedAt.Before(usedBefore)) {
			deleted++
			continue
		}
		kept = append(kept, code)
	}
	s.codes = kept
	return deleted, nil
}

func (s *OTPStore) Stats(_ context.Context, now, since time.Time) (store.OTPStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats store.OTPStats
	for _, code := range s.codes {
		if !code.CreatedAt.After(since) {
			continue
		}
		stats.Total++
		switch {
		case code.Used:
			stats.Successful++
		case code.Attempts >= code.MaxAttempts:
			stats.Failed++
		}
		if !code.Used && code.ExpiresAt.Before(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

// All returns a copy of every stored code.
func (s *OTPStore) All() []types.OTPCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.OTPCode(nil), s.codes...)
}

// MagicLinkStore is an in-memory services.MagicLinkRepository.
type MagicLinkStore struct {
	mu    sync.Mutex
	links map[string]types.MagicLink
}

func NewMagicLinkStore() *MagicLinkStore {
	return &MagicLinkStore{links: make(map[string]types.MagicLink)}
}

func (s *MagicLinkStore) Create(_ context.Context, link types.MagicLink) (types.MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.TokenHash]; ok {
		return types.MagicLink{}, store.ErrConflict
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	s.links[link.TokenHash] = link
	return link, nil
}

func (s *MagicLinkStore) Consume(_ context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[tokenHash]
	if !ok || link.Used || !link.ExpiresAt.After(now) {
		return "", store.ErrNotFound
	}
	link.Used = true
	usedAt := now
	link.UsedAt = &usedAt
	s.links[tokenHash] = link
	return link.UserEmail, nil
}

func (s *MagicLinkStore) DeleteExpired(_ context.Context, now, usedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for hash, link := range s.links {
		if link.ExpiresAt.Before(now) || (link.Used && link.UsedAt != nil && link.UsedAt.Before(usedBefore)) {
			delete(s.links, hash)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored links.
func (s *MagicLinkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// SettingsStore is an in-memory services.SettingsRepository that round-trips
// values through JSON like the JSONB column does.
type SettingsStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string][]byte)}
}

func (s *SettingsStore) Get(_ context.Context, key string, dst any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

func (s *SettingsStore) Put(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return nil
}

// AuthEventStore is an in-memory services.AuthEventRepository.
type AuthEventStore struct {
	mu     sync.Mutex
	nextID int64
	events []types.AuthEvent
}

func NewAuthEventStore() *AuthEventStore {
	return &AuthEventStore{}
}

func (s *AuthEventStore) Create(_ context.Context, event types.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *AuthEventStore) ListBefore(_ context.Context, before time.Time, afterID int64, limit int) ([]types.AuthEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var page []types.AuthEvent
	for _, event := range s.events {
		if event.ID > afterID && event.CreatedAt.Before(before) {
			page = append(page, event)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (s *AuthEventStore) DeleteThrough(_ context.Context, maxID int64, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.events[:0]
	for _, event := range s.events {
		if event.ID <= maxID && event.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of the recorded events.
func (s *AuthEventStore) Events() []types.AuthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AuthEvent(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *AuthEventStore) Types() []types.AuthEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuthEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

// RecordingNotifier keeps every notification it is asked to deliver.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []services.Notification
	// Err, when set, is returned by Notify after recording.
	Err error
}

func (n *RecordingNotifier) Notify(_ context.Context, notification services.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return n.Err
}

func (n *RecordingNotifier) Sent() []services.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]services.Notification(nil), n.sent...)
}

// Last returns the most recent notification, if any.
func (n *RecordingNotifier) Last() (services.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return services.Notification{}, false
	}
	return n.sent[len(n.sent)-1], true
}

// ObjectStore is an in-memory services.ObjectPutter.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	Err     error
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

func (o *ObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if o.Err != nil {
		return o.Err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = buf.Bytes()
	return nil
}

// Object returns the stored bytes for key.
func (o *ObjectStore) Object(key string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	return data, ok
}
