package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

var (
	ErrNotFound     = errors.New("devserver: not found")
	ErrUserExists   = errors.New("devserver: user exists")
	ErrBadPassword  = errors.New("devserver: bad credentials")
	ErrSessionEnded = errors.New("devserver: session ended")
)

type account struct {
	user        identity.User
	hash        string
	permissions []string
	roles       []string
}

type sessionRec struct {
	identity.Session
	userID  int64
	revoked bool
	reason  string
}

// store is the whole server state behind one mutex.
type store struct {
	mu sync.Mutex

	nextUser         int64
	nextSession      int64
	nextNotification int64

	byName   map[string]*account
	byID     map[int64]*account
	sessions map[int64]*sessionRec
	inbox    map[int64][]pushv1.Notification // newest last
}

func newStore() *store {
	return &store{
		byName:   make(map[string]*account),
		byID:     make(map[int64]*account),
		sessions: make(map[int64]*sessionRec),
		inbox:    make(map[int64][]pushv1.Notification),
	}
}

func (s *store) addUser(u identity.User, hash string, permissions, roles []string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := identity.NormalizeUsername(u.Username)
	if _, ok := s.byName[name]; ok {
		return identity.User{}, ErrUserExists
	}
	s.nextUser++
	u.ID = s.nextUser
	u.Username = name

	a := &account{user: u, hash: hash, permissions: clone(permissions), roles: clone(roles)}
	s.byName[name] = a
	s.byID[u.ID] = a
	return u, nil
}

func (s *store) accountByName(name string) (account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byName[identity.NormalizeUsername(name)]
	if !ok {
		return account{}, false
	}
	return a.copy(), true
}

func (s *store) accountByID(id int64) (account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return account{}, false
	}
	return a.copy(), true
}

func (a *account) copy() account {
	return account{user: a.user, hash: a.hash, permissions: clone(a.permissions), roles: clone(a.roles)}
}

func (s *store) setHash(userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	a.hash = hash
	return nil
}

func (s *store) setGrants(userID int64, permissions, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	a.permissions = clone(permissions)
	a.roles = clone(roles)
	return nil
}

func (s *store) openSession(userID int64, meta identity.Session, now time.Time, ttl time.Duration) identity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSession++
	meta.ID = s.nextSession
	meta.CreatedAt = now
	meta.LastActivityAt = now
	meta.ExpiresAt = now.Add(ttl)
	meta.IsCurrent = false
	s.sessions[meta.ID] = &sessionRec{Session: meta, userID: userID}
	return meta
}

// liveSession returns the session when it exists, belongs to userID and is
// neither revoked nor expired. touch updates LastActivityAt.
func (s *store) liveSession(userID, sessionID int64, now time.Time, touch bool) (identity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok || rec.userID != userID {
		return identity.Session{}, ErrNotFound
	}
	if rec.revoked || rec.Expired(now) {
		return rec.Session, ErrSessionEnded
	}
	if touch {
		rec.LastActivityAt = now
	}
	return rec.Session, nil
}

func (s *store) sessionReason(sessionID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		return rec.reason
	}
	return ""
}

// revoke ends a session. It reports the owner and whether anything changed.
func (s *store) revoke(sessionID int64, reason string) (userID int64, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return 0, false
	}
	if rec.revoked {
		return rec.userID, false
	}
	rec.revoked = true
	rec.reason = reason
	return rec.userID, true
}

// activeSessions lists the user's live sessions, newest first.
func (s *store) activeSessions(userID, current int64, now time.Time) []identity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]identity.Session, 0)
	for _, rec := range s.sessions {
		if rec.userID != userID || rec.revoked || rec.Expired(now) {
			continue
		}
		v := rec.Session
		v.IsCurrent = v.ID == current
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *store) userIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deliver stores one notification for each recipient under a shared ID.
func (s *store) deliver(recipients []int64, n pushv1.Notification) pushv1.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNotification++
	n.ID = s.nextNotification
	n.IsRead = false
	for _, uid := range recipients {
		s.inbox[uid] = append(s.inbox[uid], n)
	}
	return n
}

// notifications returns the inbox newest first.
func (s *store) notifications(userID int64) []pushv1.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.inbox[userID]
	out := make([]pushv1.Notification, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
	}
	return out
}

func (s *store) markRead(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inbox[userID] {
		if s.inbox[userID][i].ID == id {
			s.inbox[userID][i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *store) markAllRead(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inbox[userID] {
		s.inbox[userID][i].IsRead = true
	}
}

func (s *store) deleteNotification(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.inbox[userID]
	for i := range in {
		if in[i].ID == id {
			s.inbox[userID] = append(in[:i:i], in[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func clone(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}
