package devserver

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/identity"
	pushv1 "github.com/shavkatbegmatov/jalyuzi-epr-sub002/shared/contracts/push/v1"
)

type grantResponse struct {
	AccessToken  string        `json:"accessToken,omitempty"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	User         identity.User `json:"user"`
	Permissions  []string      `json:"permissions"`
	Roles        []string      `json:"roles"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds identity.Credentials
	if !readJSON(w, r, &creds) {
		return
	}
	a, ok := s.store.accountByName(creds.Username)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	match, err := verifyPassword(a.hash, creds.Password)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess := s.store.openSession(a.user.ID, sessionMeta(r), s.now(), s.ttl)
	access, refresh, err := s.tokens.pair(a.user.ID, sess.ID)
	if err != nil {
		s.log.Error("devserver.login.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "token")
		return
	}
	s.log.Info("devserver.login", "user_id", a.user.ID, "session_id", sess.ID)
	s.publishSession(a.user.ID, pushv1.SessionCreated, sess.ID, "login")

	writeOK(w, grantResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         a.user,
		Permissions:  a.permissions,
		Roles:        a.roles,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !readJSON(w, r, &req) {
		return
	}
	c, err := s.tokens.parse(req.RefreshToken, tokenRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if _, err := s.store.liveSession(c.UserID, c.SessionID, s.now(), true); err != nil {
		writeError(w, http.StatusUnauthorized, "session ended")
		return
	}
	a, ok := s.store.accountByID(c.UserID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	access, refresh, err := s.tokens.pair(c.UserID, c.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token")
		return
	}
	writeOK(w, grantResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         a.user,
		Permissions:  a.permissions,
		Roles:        a.roles,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := s.store.accountByID(principalFrom(r.Context()).userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeOK(w, grantResponse{User: a.user, Permissions: a.permissions, Roles: a.roles})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if err := s.RevokeSession(p.sessionID, "logout"); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeOK(w, nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !readJSON(w, r, &req) {
		return
	}
	p := principalFrom(r.Context())
	a, ok := s.store.accountByID(p.userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if match, err := verifyPassword(a.hash, req.CurrentPassword); err != nil || !match {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	if err := checkPassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := hashPassword(s.hash, req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash")
		return
	}
	if err := s.store.setHash(p.userID, hash); err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	writeOK(w, nil)
}

type validationResponse struct {
	Valid     bool   `json:"valid"`
	SessionID *int64 `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// handleValidate answers for the caller's own session. A well-formed token
// for a revoked or expired session is a 200 with valid=false, not a 401.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	c, err := s.tokens.parse(bearer(r), tokenAccess)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sid := c.SessionID
	_, err = s.store.liveSession(c.UserID, sid, s.now(), false)
	switch {
	case err == nil:
		writeOK(w, validationResponse{Valid: true, SessionID: &sid})
	case errors.Is(err, ErrNotFound):
		writeOK(w, validationResponse{Valid: false, Reason: "not_found"})
	default:
		reason := s.store.sessionReason(sid)
		if reason == "" {
			reason = "expired"
		}
		writeOK(w, validationResponse{Valid: false, SessionID: &sid, Reason: reason})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	writeOK(w, s.store.activeSessions(p.userID, p.sessionID, s.now()))
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p := principalFrom(r.Context())
	if _, err := s.store.liveSession(p.userID, id, s.now(), false); errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.RevokeSession(id, "revoked"); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	n := 0
	for _, sess := range s.store.activeSessions(p.userID, p.sessionID, s.now()) {
		if sess.IsCurrent {
			continue
		}
		if err := s.RevokeSession(sess.ID, "revoked"); err == nil {
			n++
		}
	}
	writeOK(w, map[string]int{"revoked": n})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.store.notifications(principalFrom(r.Context()).userID))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.markRead(principalFrom(r.Context()).userID, id); err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	s.store.markAllRead(principalFrom(r.Context()).userID)
	writeOK(w, nil)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.deleteNotification(principalFrom(r.Context()).userID, id); err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeOK(w, nil)
}

func sessionMeta(r *http.Request) identity.Session {
	ua := r.UserAgent()
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return identity.Session{
		DeviceType: deviceType(ua),
		Browser:    firstToken(ua),
		OS:         osName(ua),
		IPAddress:  ip,
	}
}

func deviceType(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "mobile"), strings.Contains(l, "android"), strings.Contains(l, "iphone"):
		return "MOBILE"
	case strings.Contains(l, "ipad"), strings.Contains(l, "tablet"):
		return "TABLET"
	default:
		return "DESKTOP"
	}
}

func osName(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case strings.Contains(l, "windows"):
		return "Windows"
	case strings.Contains(l, "mac os"), strings.Contains(l, "macintosh"):
		return "macOS"
	case strings.Contains(l, "android"):
		return "Android"
	case strings.Contains(l, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

func firstToken(ua string) string {
	if ua == "" {
		return "Unknown"
	}
	if i := strings.IndexAny(ua, " /"); i > 0 {
		return ua[:i]
	}
	return ua
}
