package users

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrConflict is returned by Insert when the target UUID already has an
// active session; the caller is expected to Remove the stale session and
// retry exactly once (the recovered "auth-race" case in the error taxonomy).
var ErrConflict = errors.New("users: uuid already has an active session")

type pendingEntry struct {
	nickname string
	created  time.Time
}

// Manager owns the three concurrent tables described by the data model:
// pending handshakes, the authenticated token index, and registered
// profiles. Each is a shardedMap, so writes are per-key rather than
// serialized behind one whole-table lock. Insert and Remove are the only
// operations that touch two tables at once (registered and authenticated);
// both always lock registered's shard before authenticated's, so that
// fixed order is the only thing preventing an AB-BA deadlock between them.
type Manager struct {
	pending       *shardedMap[string, pendingEntry] // serverId -> nickname
	authenticated *shardedMap[string, uuid.UUID]    // token -> uuid
	registered    *shardedMap[uuid.UUID, Userinfo]  // uuid -> profile
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		pending:       newShardedMap[string, pendingEntry](hashString),
		authenticated: newShardedMap[string, uuid.UUID](hashString),
		registered:    newShardedMap[uuid.UUID, Userinfo](hashUUID),
	}
}

// PendingInsert records a server-id awaiting external verification.
func (m *Manager) PendingInsert(serverID, nickname string) {
	m.pending.store(serverID, pendingEntry{nickname: nickname, created: time.Now()})
}

// PendingRemove consumes and returns the nickname registered for serverID,
// if any. The handshake is single-use: a second call for the same serverID
// returns ok=false.
func (m *Manager) PendingRemove(serverID string) (nickname string, ok bool) {
	var found bool
	m.pending.withLock(serverID, func(tbl map[string]pendingEntry) {
		e, exists := tbl[serverID]
		if !exists {
			return
		}
		delete(tbl, serverID)
		nickname, found = e.nickname, true
	})
	return nickname, found
}

// PendingSweep removes pending entries older than ttl. Resolves the
// distilled spec's open TODO around unbounded pending growth.
func (m *Manager) PendingSweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	return m.pending.deleteWhere(func(_ string, e pendingEntry) bool {
		return e.created.After(cutoff)
	})
}

// Insert indexes token -> uuid and upsert-merges info into the registered
// profile. Returns ErrConflict if uuid already has an active session; the
// caller should Remove(uuid) and retry once.
func (m *Manager) Insert(id uuid.UUID, token string, info Userinfo) error {
	var conflict error
	m.registered.withLock(id, func(reg map[uuid.UUID]Userinfo) {
		existing, ok := reg[id]
		if ok && existing.Token != "" {
			m.authenticated.withLock(existing.Token, func(auth map[string]uuid.UUID) {
				if _, stillActive := auth[existing.Token]; stillActive {
					conflict = ErrConflict
				}
			})
			if conflict != nil {
				return
			}
		}

		info.UUID = id
		info.Token = token
		if info.LastUsed.IsZero() {
			info.LastUsed = time.Now()
		}
		reg[id] = merge(reg[id], info)
	})
	if conflict != nil {
		return conflict
	}

	m.authenticated.store(token, id)
	return nil
}

// InsertUser upsert-merges info without touching the authenticated index.
// Used by the config loader and the admin "create user" endpoint, neither of
// which is establishing a live session.
func (m *Manager) InsertUser(id uuid.UUID, info Userinfo) {
	m.registered.withLock(id, func(reg map[uuid.UUID]Userinfo) {
		info.UUID = id
		if info.LastUsed.IsZero() {
			info.LastUsed = time.Now()
		}
		reg[id] = merge(reg[id], info)
	})
}

// Get looks up a profile by its current session token.
func (m *Manager) Get(token string) (Userinfo, bool) {
	id, ok := m.authenticated.load(token)
	if !ok {
		return Userinfo{}, false
	}
	return m.registered.load(id)
}

// GetByUUID looks up a profile directly by UUID.
func (m *Manager) GetByUUID(id uuid.UUID) (Userinfo, bool) {
	return m.registered.load(id)
}

// Ban marks a profile banned, upserting whatever fields info carries. It
// does not evict an active session; the caller drives teardown via the
// session mailbox (see internal/session and internal/wsconn).
func (m *Manager) Ban(info Userinfo) {
	m.registered.withLock(info.UUID, func(reg map[uuid.UUID]Userinfo) {
		info.Banned = true
		merged := merge(reg[info.UUID], info)
		merged.Banned = true
		reg[info.UUID] = merged
	})
}

// Unban clears the ban flag for id, if registered.
func (m *Manager) Unban(id uuid.UUID) {
	m.registered.withLock(id, func(reg map[uuid.UUID]Userinfo) {
		info, ok := reg[id]
		if !ok {
			return
		}
		info.Banned = false
		reg[id] = info
	})
}

// IsBanned reports whether id is currently banned; unknown UUIDs are not
// banned.
func (m *Manager) IsBanned(id uuid.UUID) bool {
	info, _ := m.registered.load(id)
	return info.Banned
}

// Remove drops the authenticated-token entry for id's current token, if any.
// The registered profile is left in place — the user remains known, only the
// single-session invariant is cleared so a fresh handshake can re-attach.
func (m *Manager) Remove(id uuid.UUID) {
	var oldToken string
	m.registered.withLock(id, func(reg map[uuid.UUID]Userinfo) {
		info, ok := reg[id]
		if !ok || info.Token == "" {
			return
		}
		oldToken = info.Token
		info.Token = ""
		reg[id] = info
	})
	if oldToken == "" {
		return
	}
	m.authenticated.delete(oldToken)
}

// CountAuthenticated returns the number of live session tokens.
func (m *Manager) CountAuthenticated() int {
	return m.authenticated.len()
}

// CountPending returns the number of outstanding handshakes.
func (m *Manager) CountPending() int {
	return m.pending.len()
}

// ListRegistered returns a snapshot of every known profile, for admin
// listing endpoints.
func (m *Manager) ListRegistered() []Userinfo {
	return m.registered.values()
}

// ListSessions returns every UUID that currently has an active token.
func (m *Manager) ListSessions() []uuid.UUID {
	return m.authenticated.values()
}
