package devserver

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var ErrBadToken = errors.New("devserver: bad token")

// Claims is the JWT body. sid is what a client may read without verifying.
type Claims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"uid"`
	SessionID int64  `json:"sid"`
	TokenType string `json:"typ"`
}

type issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func (i *issuer) issue(userID, sessionID int64, typ string) (string, error) {
	ttl := i.accessTTL
	if typ == tokenRefresh {
		ttl = i.refreshTTL
	}
	now := i.now()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		SessionID: sessionID,
		TokenType: typ,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, nil
}

func (i *issuer) pair(userID, sessionID int64) (access, refresh string, err error) {
	if access, err = i.issue(userID, sessionID, tokenAccess); err != nil {
		return "", "", err
	}
	if refresh, err = i.issue(userID, sessionID, tokenRefresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// parse verifies signature, expiry and token type.
func (i *issuer) parse(raw, typ string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if c.TokenType != typ || c.UserID == 0 || c.SessionID == 0 {
		return nil, fmt.Errorf("%w: wrong token kind", ErrBadToken)
	}
	return &c, nil
}
