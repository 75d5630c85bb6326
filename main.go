package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"cosmowire/server/internal/auth"
	"cosmowire/server/internal/blob"
	"cosmowire/server/internal/config"
	"cosmowire/server/internal/hooks"
	"cosmowire/server/internal/httpapi"
	"cosmowire/server/internal/metrics"
	"cosmowire/server/internal/session"
	"cosmowire/server/internal/stateping"
	"cosmowire/server/internal/store"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wsconn"

	"github.com/google/uuid"
)

// Version is stamped at release time; "0.1.0-dev" outside of a tagged build.
var Version = "0.1.0-dev"

// pendingHandshakeTTL resolves the distilled spec's open question about
// auto-purging stale /id handshakes that never reach /verify.
const pendingHandshakeTTL = 5 * time.Minute

func main() {
	configureLogger(os.Getenv("LOGGER"))
	slog.Info("cosmowire starting", "version", Version)

	cfg, err := config.Load(os.Getenv("CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	dbPath := filepath.Join(envOr("LOGS_FOLDER", "."), "cosmowire.db")
	st, err := store.Open(dbPath)
	if err != nil {
		slog.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	blobs, err := blob.NewStore(envOr("AVATARS_FOLDER", "avatars"), st)
	if err != nil {
		slog.Error("blob store open failed", "err", err)
		os.Exit(1)
	}

	userMgr := users.NewManager()
	if err := hydrateFromStore(userMgr, st); err != nil {
		slog.Error("store hydration failed", "err", err)
		os.Exit(1)
	}
	seedFromConfig(userMgr, st, cfg.Current())
	cfg.OnReload(func(c config.Config) { seedFromConfig(userMgr, st, c) })

	registry := session.NewRegistry()
	pings := stateping.NewStore()
	hs := auth.NewHandshake(userMgr, cfg.Providers)
	wsHandler := wsconn.NewHandler(userMgr, registry, pings, slog.Default())
	metricsReg := metrics.NewRegistry()
	registry.SetForwardHooks(metricsReg.PingsForwarded.Inc, metricsReg.PingsDropped.Inc)

	httpServer := httpapi.New(cfg, userMgr, hs, registry, pings, blobs, st, wsHandler, metricsReg,
		os.Getenv("ASSETS_FOLDER"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	go sweepPendingHandshakes(ctx, userMgr)
	go sampleGauges(ctx, registry, userMgr, metricsReg)
	go hooks.NewBanListWatcher(cfg.Current().McFolder, userMgr, registry, st, slog.Default()).Run(ctx)
	cfg.Watch()

	if err := httpServer.Run(ctx, cfg.Current().Listen); err != nil {
		slog.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

// gaugeSampleInterval matches the teacher's own periodic-stats ticker
// cadence; these are cheap snapshot reads so sub-second freshness isn't
// needed.
const gaugeSampleInterval = 5 * time.Second

func sampleGauges(ctx context.Context, registry *session.Registry, m *users.Manager, reg *metrics.Registry) {
	ticker := time.NewTicker(gaugeSampleInterval)
	defer ticker.Stop()
	sample := func() {
		reg.AttachedSessions.Set(float64(len(registry.AttachedIDs())))
		reg.AuthenticatedUsers.Set(float64(m.CountAuthenticated()))
		reg.PendingHandshakes.Set(float64(m.CountPending()))
	}
	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func sweepPendingHandshakes(ctx context.Context, m *users.Manager) {
	ticker := time.NewTicker(pendingHandshakeTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PendingSweep(pendingHandshakeTTL); n > 0 {
				slog.Debug("swept stale pending handshakes", "count", n)
			}
		}
	}
}

// hydrateFromStore loads persisted bans and advanced-user entries into the
// user manager before the HTTP/WS listeners start, so a restart never
// silently forgets a ban or special-badge grant that survived the process.
func hydrateFromStore(m *users.Manager, st *store.Store) error {
	ctx := context.Background()
	bans, err := st.ListBans(ctx)
	if err != nil {
		return err
	}
	for _, id := range bans {
		m.Ban(users.Userinfo{UUID: id})
	}

	advanced, err := st.ListAdvancedUsers(ctx)
	if err != nil {
		return err
	}
	for _, a := range advanced {
		m.InsertUser(a.UUID, users.Userinfo{
			Nickname: a.Username,
			Banned:   a.Banned,
			Special:  a.Special,
			Pride:    a.Pride,
		})
	}
	return nil
}

// seedFromConfig pushes the config file's advancedUsers table into the live
// user manager and persists each entry to the store (previously persisted
// rows are applied separately by hydrateFromStore). Each reload re-applies
// the table in full.
func seedFromConfig(m *users.Manager, st *store.Store, cfg config.Config) {
	for idStr, entry := range cfg.AdvancedUsers {
		id, err := uuid.Parse(idStr)
		if err != nil {
			slog.Warn("advancedUsers: invalid uuid key", "key", idStr, "err", err)
			continue
		}
		info := users.Userinfo{
			Nickname: entry.Username,
			Banned:   entry.Banned,
			Special:  entry.Special,
			Pride:    entry.Pride,
		}
		m.InsertUser(id, info)
		if err := st.UpsertAdvancedUser(context.Background(), store.AdvancedUser{
			UUID: id, Username: entry.Username, Banned: entry.Banned,
			Special: entry.Special, Pride: entry.Pride,
		}); err != nil {
			slog.Warn("advancedUsers: persist failed", "uuid", id, "err", err)
		}
		if entry.Banned {
			m.Ban(users.Userinfo{UUID: id})
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func configureLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
