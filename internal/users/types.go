// Package users tracks pending handshakes, authenticated tokens, and
// registered player profiles. It is the single source of truth for the
// invariants that tie a session token to exactly one registered UUID.
package users

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRank is assigned to a profile until something authoritative
	// (config, a later handshake) overrides it.
	DefaultRank = "default"
	// UnknownProvider marks a profile whose authProvider is not yet known.
	UnknownProvider = "Unknown"

	numSpecialBadges = 6
	numPrideBadges   = 25
)

// Userinfo is the profile record for a single player, keyed by UUID.
type Userinfo struct {
	UUID         uuid.UUID
	Nickname     string
	Rank         string
	LastUsed     time.Time
	AuthProvider string
	Token        string // empty means "no active session"
	Version      string
	Banned       bool
	Special      [numSpecialBadges]int
	Pride        [numPrideBadges]int
}

// HasToken reports whether this profile currently has an active session
// token attached.
func (u Userinfo) HasToken() bool { return u.Token != "" }

// merge applies src on top of dst, keeping whichever fields src doesn't
// authoritatively set. This is the upsert-merge described in the user
// manager's Insert/InsertUser contract: every caller only owns a subset of
// the fields, so a merge rather than an overwrite is required to avoid one
// source clobbering another's data.
func merge(dst, src Userinfo) Userinfo {
	out := dst
	out.UUID = src.UUID
	if src.Nickname != "" {
		out.Nickname = src.Nickname
	}
	if src.Rank != "" && src.Rank != DefaultRank {
		out.Rank = src.Rank
	} else if out.Rank == "" {
		out.Rank = DefaultRank
	}
	if src.Token != "" {
		out.Token = src.Token
	}
	if src.Version != "" {
		out.Version = src.Version
	}
	if src.AuthProvider != "" {
		out.AuthProvider = src.AuthProvider
	} else if out.AuthProvider == "" {
		out.AuthProvider = UnknownProvider
	}
	if !src.LastUsed.IsZero() {
		out.LastUsed = src.LastUsed
	}
	if src.Special != ([numSpecialBadges]int{}) {
		out.Special = src.Special
	}
	if src.Pride != ([numPrideBadges]int{}) {
		out.Pride = src.Pride
	}
	return out
}
