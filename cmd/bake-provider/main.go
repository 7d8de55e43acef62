// Command bake-provider is the server daemon: it loads the
// configuration tree (§4.7), attaches every configured target, and
// serves the §6 wire contract over HTTP until interrupted. It plays the
// role bake-server-daemon.c plays in the original, fronted here by
// provider/transport's gin binding instead of a Mercury RPC server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/config"
	"github.com/bake-hpc/bake/filebackend"
	"github.com/bake-hpc/bake/membackend"
	"github.com/bake-hpc/bake/provider"
	"github.com/bake-hpc/bake/provider/transport"
	"github.com/bake-hpc/bake/transfer"
)

func main() {
	bake.ConfigureLogging()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var listenAddr string
	var providerID uint16

	cmd := &cobra.Command{
		Use:   "bake-provider",
		Short: "Run a BAKE provider, serving the wire contract over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, listenAddr, providerID)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON configuration file (defaults applied when absent)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	cmd.Flags().Uint16Var(&providerID, "provider", 0, "this provider's numeric id")
	return cmd
}

func run(ctx context.Context, configPath, listenAddr string, providerID uint16) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	filebackend.SetIOConcurrency(cfg.FileBackend.AbtIOThreads)

	var poolset *transfer.Poolset
	if cfg.Pipeline.Enable {
		poolset = transfer.NewPoolset(cfg.Pipeline.NPools, cfg.Pipeline.NBuffersPerPool, cfg.Pipeline.FirstBufferSize, cfg.Pipeline.Multiplier)
	}

	p := provider.New(providerID, cfg, poolset, nil)
	attached := make(map[string]bool)

	if err := attachConfiguredTargets(ctx, p, cfg, poolset, attached); err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.Watch(ctx, configPath, func(newCfg *config.Tree, err error) {
			if err != nil {
				slog.Warn("configuration reload failed, keeping previous configuration", "error", err)
				return
			}
			slog.Info("configuration file changed, reloading", "path", configPath)
			filebackend.SetIOConcurrency(newCfg.FileBackend.AbtIOThreads)
			cfg = newCfg
			if err := attachConfiguredTargets(ctx, p, cfg, poolset, attached); err != nil {
				slog.Warn("applying reloaded target configuration", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("watching %s: %w", configPath, err)
		}
		defer watcher.Close()
	}

	srv := transport.NewServer()
	srv.Register(p)

	httpServer := &http.Server{Addr: listenAddr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("bake-provider listening", "addr", listenAddr, "provider", providerID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), bake.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	return p.Deregister(shutdownCtx)
}

// attachConfiguredTargets attaches every target named in cfg that is not
// already recorded in attached, so it can run both at startup and from a
// config.Watch callback on reload. Targets already attached are left alone:
// §4.7's hot-reload only materializes newly-appeared configuration, it does
// not re-attach or detach a running target.
func attachConfiguredTargets(ctx context.Context, p *provider.Provider, cfg *config.Tree, poolset *transfer.Poolset, attached map[string]bool) error {
	for _, path := range cfg.FileBackend.Targets {
		if attached[path] {
			continue
		}
		if poolset == nil {
			return fmt.Errorf("attaching %s: pipeline must be enabled for file-backed targets", path)
		}
		backend, err := filebackend.AttachTarget(ctx, path, filebackend.Options{
			Alignment:       uint64(cfg.FileBackend.Alignment),
			LogCount:        uint32(cfg.FileBackend.NLogs),
			SyncOnPersist:   cfg.FileBackend.Sync,
			DirectIO:        cfg.FileBackend.DirectIO,
			EagerLimitBytes: cfg.FileBackend.EagerLimitBytes,
			Poolset:         poolset,
		})
		if err != nil {
			return fmt.Errorf("attaching file target %s: %w", path, err)
		}
		if err := p.Attach(backend.ID(), bake.BackendFile, backend); err != nil {
			return fmt.Errorf("registering file target %s: %w", path, err)
		}
		attached[path] = true
		slog.Info("attached file-backed target", "path", path, "target", backend.ID())
	}

	for _, path := range cfg.PmemBackend.Targets {
		if attached[path] {
			continue
		}
		id := bake.NewTargetID()
		backend := membackend.New(id, cfg.PmemBackend.DefaultInitialTargetSize, true)
		if err := p.Attach(id, bake.BackendMem, backend); err != nil {
			return fmt.Errorf("registering pmem target %s: %w", path, err)
		}
		attached[path] = true
		slog.Info("attached memory-backed target", "path", path, "target", id)
	}
	return nil
}
