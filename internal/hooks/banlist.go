// Package hooks watches host-process state external to this server — today,
// a Minecraft server's banned-players.json — and mirrors it into the user
// manager so a ban issued by the game server itself takes effect for
// attached WebSocket sessions without requiring the admin API.
package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cosmowire/server/internal/session"
	"cosmowire/server/internal/store"
	"cosmowire/server/internal/users"
)

// pollInterval matches the cadence of the teacher's own background-stats
// ticker; the ban file is small and local disk, so up to two seconds of
// staleness is an acceptable tradeoff for not needing a native filesystem watch here.
const pollInterval = 2 * time.Second

// banEntry mirrors one record of Minecraft's banned-players.json.
type banEntry struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// BanListWatcher polls mcFolder/banned-players.json and diffs it against
// its previous snapshot, applying Ban/Unban to Manager for whatever
// changed.
type BanListWatcher struct {
	Path     string
	Manager  *users.Manager
	Registry *session.Registry
	Audit    *store.Store // optional; nil disables audit-log writes
	Log      *slog.Logger

	known map[uuid.UUID]bool
}

// NewBanListWatcher builds a watcher over "<mcFolder>/banned-players.json".
// mcFolder may be empty, in which case Run is a no-op: the host-process
// integration is optional, matching the config schema's mcFolder being
// itself optional. audit may be nil in tests that don't care about the
// audit trail.
func NewBanListWatcher(mcFolder string, m *users.Manager, r *session.Registry, audit *store.Store, log *slog.Logger) *BanListWatcher {
	if log == nil {
		log = slog.Default()
	}
	var path string
	if mcFolder != "" {
		path = filepath.Join(mcFolder, "banned-players.json")
	}
	return &BanListWatcher{Path: path, Manager: m, Registry: r, Audit: audit, Log: log, known: make(map[uuid.UUID]bool)}
}

// Run polls until ctx is canceled. Parse failures are logged and skipped —
// a malformed or transiently-truncated ban file must never crash the
// server.
func (w *BanListWatcher) Run(ctx context.Context) {
	if w.Path == "" {
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *BanListWatcher) poll() {
	data, err := os.ReadFile(w.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.Log.Warn("ban list read failed", "path", w.Path, "err", err)
		}
		return
	}

	var entries []banEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		w.Log.Warn("ban list parse failed", "path", w.Path, "err", err)
		return
	}

	current := make(map[uuid.UUID]bool, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(e.UUID)
		if err != nil {
			continue
		}
		current[id] = true
		if !w.known[id] {
			w.Manager.Ban(users.Userinfo{UUID: id, Nickname: e.Name})
			w.Registry.SendToMailbox(id, session.Message{Banned: true})
			w.audit(id, "ban", e.Reason)
			w.Log.Info("host ban mirrored", "uuid", id)
		}
	}

	for id := range w.known {
		if !current[id] {
			w.Manager.Unban(id)
			w.audit(id, "unban", "")
			w.Log.Info("host unban mirrored", "uuid", id)
		}
	}

	w.known = current
}

// audit records a best-effort trail entry for a host-mirrored ban/unban; a
// write failure is logged but never blocks the poll loop.
func (w *BanListWatcher) audit(target uuid.UUID, action, details string) {
	if w.Audit == nil {
		return
	}
	if err := w.Audit.InsertAuditLog(context.Background(), "banlist-hook", action, target.String(), details); err != nil {
		w.Log.Warn("audit log write failed", "action", action, "uuid", target, "err", err)
	}
}
