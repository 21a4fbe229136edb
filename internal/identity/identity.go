package identity

import (
	"strings"
	"time"
)

// User is the authenticated staff member as returned by the server.
// Field names follow the server's JSON.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// IsZero reports whether u carries no identity.
func (u User) IsZero() bool { return u.ID == 0 && u.Username == "" }

// Session is one server-tracked login. The client only observes sessions;
// it never creates them and deletes them only through explicit revocation.
type Session struct {
	ID             int64     `json:"id"`
	DeviceType     string    `json:"deviceType"`
	Browser        string    `json:"browser"`
	OS             string    `json:"os"`
	IPAddress      string    `json:"ipAddress"`
	Location       string    `json:"location,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IsCurrent      bool      `json:"isCurrent"`
}

// Expired reports whether s has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Credentials is a login request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Grant is the authorization material returned by login and refresh.
type Grant struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         User     `json:"user"`
	Permissions  []string `json:"permissions"`
	Roles        []string `json:"roles"`
}
