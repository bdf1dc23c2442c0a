package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang-intel-service/internal/channel"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for credentials that fail verification
var ErrInvalidToken = errors.New("invalid token")

// Authenticator resolves a bearer credential to an Identity. An empty
// credential yields the public identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// Claims carried by streamer access tokens
type Claims struct {
	UserID         string `json:"user_id"`
	ClearanceLevel string `json:"clearance_level"`
	Jurisdiction   string `json:"jurisdiction,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HMAC-signed tokens
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
// When issuer is not empty, tokens must carry it.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Authenticate validates the credential and returns the identity it names
func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return Public(), nil
	}
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: token verification is not configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	level := channel.Unclassified
	if claims.ClearanceLevel != "" {
		level, err = channel.ParseLevel(claims.ClearanceLevel)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	jurisdiction := claims.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = "public"
	}

	return Identity{UserID: userID, Clearance: level, Jurisdiction: jurisdiction}, nil
}

// Issue signs a token for identity valid for ttl
func (a *JWTAuthenticator) Issue(identity Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("failed to issue token: no signing secret configured")
	}
	now := a.now()
	claims := &Claims{
		UserID:         identity.UserID,
		ClearanceLevel: identity.Clearance.String(),
		Jurisdiction:   identity.Jurisdiction,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
