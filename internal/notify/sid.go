package notify

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// sessionIDFromToken reads the sid claim of a JWT access token without
// verifying it. It reports false when the token is not a JWT or has no sid.
func sessionIDFromToken(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	switch v := claims["sid"].(type) {
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
