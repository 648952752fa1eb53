package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/proxy"
	"github.com/telaman/tsync/internal/store"
	"github.com/telaman/tsync/internal/syncconfig"
)

var (
	serveListen string
	serveOrigin string
	serveWake   time.Duration
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the local sync proxy daemon",
	GroupID: "sync",
	Long: `Run the background proxy that sits between the app and the server.

API requests are forwarded network-first; when the server is
unreachable the proxy answers from the local mirror and queues
mutations for replay. Static assets are served cache-first from a
generation-named disk cache. The queue drains automatically when
connectivity returns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := syncconfig.ConfigDir()
		if err != nil {
			return fmt.Errorf("config dir: %w", err)
		}

		st, err := store.Open(dir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		authPath, err := syncconfig.AuthPath()
		if err != nil {
			return fmt.Errorf("auth path: %w", err)
		}

		generation := version
		if generation == "" {
			generation = "dev"
		}

		listen := serveListen
		if listen == "" {
			listen = syncconfig.GetProxyListen()
		}
		origin := serveOrigin
		if origin == "" {
			origin = syncconfig.GetProxyOrigin()
		}

		daemon, err := proxy.NewDaemon(proxy.Config{
			ListenAddr:   listen,
			APIBase:      syncconfig.GetServerURL(),
			Origin:       origin,
			UserID:       syncconfig.GetUserID(),
			Token:        syncconfig.GetToken(),
			CacheRoot:    filepath.Join(dir, "cache"),
			Generation:   generation,
			AuthFile:     authPath,
			ReloadToken:  syncconfig.GetToken,
			Precache:     syncconfig.GetPrecachePaths(),
			WakeInterval: serveWake,
		}, st)
		if err != nil {
			st.Close()
			return fmt.Errorf("wire daemon: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := daemon.Start(); err != nil {
			slog.Error("start proxy", "err", err)
			return err
		}
		slog.Info("proxy started", "addr", daemon.Addr(), "generation", generation)

		<-ctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := daemon.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "err", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveOrigin, "origin", "", "upstream asset origin (default from config)")
	serveCmd.Flags().DurationVar(&serveWake, "wake-interval", 15*time.Minute, "periodic wake-up interval, 0 to disable")
	rootCmd.AddCommand(serveCmd)
}
