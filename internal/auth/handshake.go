package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cosmowire/server/internal/users"
)

// ErrVerifyInternal covers the "pending entry missing" and "HasJoined
// transport error" cases, both mapped to HTTP 500 by the caller.
var ErrVerifyInternal = errors.New("auth: internal verify error")

// ErrVerifyFailed covers a negative HasJoined result.
var ErrVerifyFailed = errors.New("auth: failed to verify")

// ErrBanned covers a resolved UUID that is already banned.
var ErrBanned = errors.New("auth: you're banned!")

// ErrSecondSession covers a Conflict that survives one Remove+retry cycle.
var ErrSecondSession = errors.New("auth: second session detected")

// Handshake wires the user manager, the provider race, and an HTTP client
// together to implement the /id and /verify operations.
type Handshake struct {
	Manager   *users.Manager
	Client    *http.Client
	Providers func() []Provider // indirection so config reload can swap the list
}

// NewHandshake builds a Handshake with sane defaults. providers is called on
// every /verify so config reload takes effect without restarting.
func NewHandshake(m *users.Manager, providers func() []Provider) *Handshake {
	return &Handshake{Manager: m, Client: &http.Client{}, Providers: providers}
}

// BeginID implements /id: mint a serverId, remember the nickname under it.
func (h *Handshake) BeginID(nickname string) (string, error) {
	serverID, err := NewServerID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerifyInternal, err)
	}
	h.Manager.PendingInsert(serverID, nickname)
	return serverID, nil
}

// Verify implements /verify: consume the pending entry, race the providers,
// check the ban list, and upsert the session.
func (h *Handshake) Verify(ctx context.Context, serverID, version string) (token string, err error) {
	nickname, ok := h.Manager.PendingRemove(serverID)
	if !ok {
		return "", ErrVerifyInternal
	}

	id, provider, err := HasJoined(ctx, h.Client, h.Providers(), serverID, nickname)
	if err != nil {
		if errors.Is(err, ErrNoProvider) {
			return "", ErrVerifyFailed
		}
		return "", fmt.Errorf("%w: %v", ErrVerifyInternal, err)
	}

	if h.Manager.IsBanned(id) {
		return "", ErrBanned
	}

	info := users.Userinfo{
		Nickname:     nickname,
		AuthProvider: provider.Name,
		Token:        serverID,
		Version:      version,
		LastUsed:     time.Now(),
	}

	if insErr := h.Manager.Insert(id, serverID, info); insErr != nil {
		if !errors.Is(insErr, users.ErrConflict) {
			return "", fmt.Errorf("%w: %v", ErrVerifyInternal, insErr)
		}
		h.Manager.Remove(id)
		if insErr := h.Manager.Insert(id, serverID, info); insErr != nil {
			return "", ErrSecondSession
		}
	}

	return serverID, nil
}

// ResolveToken is a thin convenience used by WebSocket session setup.
func (h *Handshake) ResolveToken(token string) (users.Userinfo, bool) {
	return h.Manager.Get(token)
}
