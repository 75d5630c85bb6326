// Package auth races a player's serverId against a list of external session
// validators (Mojang, Ely.by, or any compatible hasJoined-style API) and
// resolves the two-phase handshake described by the wider spec.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Provider is a single external validator endpoint.
type Provider struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// DefaultProviders mirrors the config schema's documented default.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "Mojang", URL: "https://sessionserver.mojang.com/session/minecraft/hasJoined"},
		{Name: "Ely.by", URL: "https://authserver.ely.by/session/hasJoined"},
	}
}

const requestTimeout = 10 * time.Second
const userAgent = "cosmowire-server/1.0"

type hasJoinedResponse struct {
	ID string `json:"id"`
}

// result is one provider's outcome: exactly one of (uuid set), (miss), or
// (err set) holds.
type result struct {
	provider Provider
	id       uuid.UUID
	miss     bool
	err      error
}

func query(ctx context.Context, client *http.Client, p Provider, serverID, username string) result {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?serverId=%s&username=%s", p.URL, serverID, username)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return result{provider: p, err: fmt.Errorf("%s: build request: %w", p.Name, err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return result{provider: p, err: fmt.Errorf("%s: request: %w", p.Name, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result{provider: p, miss: true}
	}

	var body hasJoinedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return result{provider: p, err: fmt.Errorf("%s: decode response: %w", p.Name, err)}
	}
	id, err := uuid.Parse(body.ID)
	if err != nil {
		return result{provider: p, err: fmt.Errorf("%s: parse uuid %q: %w", p.Name, body.ID, err)}
	}
	return result{provider: p, id: id}
}

// ErrNoProvider is returned when every provider completed without error but
// none recognized the player; this is a negative outcome, not a failure.
var ErrNoProvider = errors.New("auth: no provider recognized this player")

// HasJoined races one request per provider and returns the first success.
// If every provider misses without error, it returns ErrNoProvider. If at
// least one provider errored and none succeeded, it returns an aggregate
// error built from every failure observed.
func HasJoined(ctx context.Context, client *http.Client, providers []Provider, serverID, username string) (uuid.UUID, Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resultCh := make(chan result, len(providers))
	for _, p := range providers {
		go func(p Provider) { resultCh <- query(ctx, client, p, serverID, username) }(p)
	}

	var errs []error
	for i := 0; i < len(providers); i++ {
		r := <-resultCh
		switch {
		case r.err == nil && !r.miss:
			return r.id, r.provider, nil
		case r.err != nil:
			errs = append(errs, r.err)
		}
	}
	if len(errs) > 0 {
		return uuid.UUID{}, Provider{}, errors.Join(errs...)
	}
	return uuid.UUID{}, Provider{}, ErrNoProvider
}

// NewServerID draws 50 cryptographically-random bytes, hashes them with
// SHA-1, and hex-encodes the digest — the ephemeral serverId a client
// presents to the external validator and later to /verify.
func NewServerID() (string, error) {
	buf := make([]byte, 50)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: draw random bytes: %w", err)
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}
