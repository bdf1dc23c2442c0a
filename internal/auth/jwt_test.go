package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang-intel-service/internal/channel"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	assert := assert.New(t)
	a := NewJWTAuthenticator("s3cret", "intel-streamer")

	token, err := a.Issue(Identity{UserID: "analyst-7", Clearance: channel.TopSecret, Jurisdiction: "us"}, time.Hour)
	require.Nil(t, err)

	// Case 1: raw token
	identity, err := a.Authenticate(context.Background(), token)
	assert.Nil(err)
	assert.Equal(Identity{UserID: "analyst-7", Clearance: channel.TopSecret, Jurisdiction: "us"}, identity)

	// Case 2: bearer prefix
	identity, err = a.Authenticate(context.Background(), "Bearer "+token)
	assert.Nil(err)
	assert.Equal("analyst-7", identity.UserID)
}

func TestAuthenticateEmptyIsPublic(t *testing.T) {
	a := NewJWTAuthenticator("", "")
	identity, err := a.Authenticate(context.Background(), "")
	assert.Nil(t, err)
	assert.Equal(t, Public(), identity)
}

func TestAuthenticateRejects(t *testing.T) {
	assert := assert.New(t)
	a := NewJWTAuthenticator("s3cret", "intel-streamer")
	other := NewJWTAuthenticator("different", "intel-streamer")
	wrongIssuer := NewJWTAuthenticator("s3cret", "someone-else")

	forged, err := other.Issue(Identity{UserID: "x", Clearance: channel.TopSecretSCI}, time.Hour)
	require.Nil(t, err)
	foreign, err := wrongIssuer.Issue(Identity{UserID: "x"}, time.Hour)
	require.Nil(t, err)
	expired, err := a.Issue(Identity{UserID: "x"}, -time.Minute)
	require.Nil(t, err)

	badLevel, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "x",
		ClearanceLevel:   "cosmic",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "intel-streamer"},
	}).SignedString([]byte("s3cret"))
	require.Nil(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-token",
		"forged":    forged,
		"issuer":    foreign,
		"expired":   expired,
		"clearance": badLevel,
	} {
		_, err := a.Authenticate(context.Background(), token)
		assert.True(errors.Is(err, ErrInvalidToken), name)
	}
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	a := NewJWTAuthenticator("", "")
	_, err := a.Authenticate(context.Background(), "abc.def.ghi")
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = a.Issue(Public(), time.Minute)
	assert.NotNil(t, err)
}
