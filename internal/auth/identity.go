package auth

import "golang-intel-service/internal/channel"

// Identity is what the core needs to know about an authenticated caller
type Identity struct {
	UserID       string        `json:"user_id"`
	Clearance    channel.Level `json:"-"`
	Jurisdiction string        `json:"jurisdiction"`
}

// Public is the identity used when no credential is presented
func Public() Identity {
	return Identity{UserID: "public", Clearance: channel.Unclassified, Jurisdiction: "public"}
}

// WithClearance returns a copy of the identity holding level instead
func (i Identity) WithClearance(level channel.Level) Identity {
	i.Clearance = level
	return i
}
