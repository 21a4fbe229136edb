package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

type Config struct {
	// Secret signs access and refresh tokens (HS256).
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration

	// OriginPatterns are host patterns the push gateway accepts as Origin.
	OriginPatterns    []string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	RateEvents        int
	RateWindow        time.Duration

	Now func() time.Time
	Log *slog.Logger
}

// SeedUser is a user created at startup.
type SeedUser struct {
	Username    string
	Password    string
	FullName    string
	Email       string
	Role        string
	Permissions []string
	Roles       []string
}

type Server struct {
	log     *slog.Logger
	now     func() time.Time
	tokens  *issuer
	store   *store
	gateway *Gateway
	hash    hashParams
	ttl     time.Duration
}

func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("devserver: secret required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = cfg.RefreshTTL
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Server{
		log:   cfg.Log,
		now:   cfg.Now,
		store: newStore(),
		hash:  devHashParams,
		ttl:   cfg.SessionTTL,
		tokens: &issuer{
			secret:     []byte(cfg.Secret),
			accessTTL:  cfg.AccessTTL,
			refreshTTL: cfg.RefreshTTL,
			now:        cfg.Now,
		},
	}
	s.gateway = newGateway(cfg.Log, s.authenticatePush, cfg)
	return s, nil
}

func (s *Server) Gateway() *Gateway { return s.gateway }

// Handler mounts /api/v1, /ws, /admin and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/ws", s.gateway)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Get("/sessions/validate", s.handleValidate)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions/revoke-others", s.handleRevokeOthers)
			r.Delete("/sessions/{id}", s.handleRevokeSession)

			r.Get("/notifications", s.handleListNotifications)
			r.Put("/notifications/read-all", s.handleMarkAllRead)
			r.Put("/notifications/{id}/read", s.handleMarkRead)
			r.Delete("/notifications/{id}", s.handleDeleteNotification)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/users", s.handleAdminCreateUser)
		r.Put("/users/{id}/permissions", s.handleAdminPermissions)
		r.Post("/users/{id}/notifications", s.handleAdminNotify)
		r.Post("/notifications/broadcast", s.handleAdminBroadcast)
		r.Post("/sessions/{id}/revoke", s.handleAdminRevoke)
	})
	return r
}

// AddUser creates a user with a hashed password.
func (s *Server) AddUser(u SeedUser) (identity.User, error) {
	if err := checkPassword(u.Password); err != nil {
		return identity.User{}, err
	}
	if identity.NormalizeUsername(u.Username) == "" {
		return identity.User{}, errors.New("devserver: username required")
	}
	hash, err := hashPassword(s.hash, u.Password)
	if err != nil {
		return identity.User{}, err
	}
	return s.store.addUser(identity.User{
		Username: u.Username,
		FullName: u.FullName,
		Email:    u.Email,
		Role:     u.Role,
	}, hash, u.Permissions, u.Roles)
}

// RevokeSession ends a session and tells the owner's tabs.
func (s *Server) RevokeSession(sessionID int64, reason string) error {
	uid, changed := s.store.revoke(sessionID, reason)
	if uid == 0 {
		return ErrNotFound
	}
	if changed {
		s.publishSession(uid, pushv1.SessionRevoked, sessionID, reason)
	}
	return nil
}

// UpdatePermissions replaces a user's grants and pushes them.
func (s *Server) UpdatePermissions(userID int64, permissions, roles []string, reason string) error {
	if err := s.store.setGrants(userID, permissions, roles); err != nil {
		return err
	}
	s.gateway.Publish(userID, pushv1.DestUserPermissions, pushv1.PermissionUpdate{
		Permissions: clone(permissions),
		Roles:       clone(roles),
		Reason:      reason,
		Timestamp:   s.now(),
	})
	return nil
}

// Notify stores a notification for one user and pushes it.
func (s *Server) Notify(userID int64, title, message, kind string) (pushv1.Notification, error) {
	if _, ok := s.store.accountByID(userID); !ok {
		return pushv1.Notification{}, ErrNotFound
	}
	n := s.store.deliver([]int64{userID}, pushv1.Notification{
		Title: title, Message: message, Type: kind, CreatedAt: s.now(),
	})
	s.gateway.Publish(userID, pushv1.DestUserNotifications, n)
	return n, nil
}

// Broadcast stores a notification for every user and publishes it on the
// staff topic.
func (s *Server) Broadcast(title, message, kind string) pushv1.Notification {
	n := s.store.deliver(s.store.userIDs(), pushv1.Notification{
		Title: title, Message: message, Type: kind, CreatedAt: s.now(),
	})
	s.gateway.Publish(0, pushv1.DestStaffNotifications, n)
	return n
}

func (s *Server) publishSession(userID int64, kind string, sessionID int64, reason string) {
	sid := sessionID
	s.gateway.Publish(userID, pushv1.DestUserSessions, pushv1.SessionUpdate{
		Type:      kind,
		SessionID: &sid,
		UserID:    userID,
		Reason:    reason,
		Timestamp: s.now(),
	})
}

func (s *Server) authenticatePush(token string) (int64, int64, error) {
	c, err := s.tokens.parse(token, tokenAccess)
	if err != nil {
		return 0, 0, err
	}
	if _, err := s.store.liveSession(c.UserID, c.SessionID, s.now(), false); err != nil {
		return 0, 0, err
	}
	return c.UserID, c.SessionID, nil
}

type principalKey struct{}

type principal struct {
	userID    int64
	sessionID int64
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// requireAuth admits requests carrying a valid access token for a live session.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := s.tokens.parse(bearer(r), tokenAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.store.liveSession(c.UserID, c.SessionID, s.now(), true); err != nil {
			writeError(w, http.StatusUnauthorized, "session ended")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal{userID: c.UserID, sessionID: c.SessionID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
