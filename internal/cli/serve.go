package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/engine"
	"github.com/danieljhkim/deltaserve/internal/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAddr    string
	serveRealm   string
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the repository to working copy clients",
	Long: `Listen for client sessions on a websocket endpoint (` + transport.SessionPath + `) and
report server status on ` + transport.StatusPath + `. Revisions committed by "deltaserve import"
while the server runs are picked up unless --no-watch is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if cmd.Flags().Changed("realm") {
			cfg.Server.Realm = serveRealm
		}
		if serveNoWatch {
			cfg.Repository.Watch = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		r, err := openRepository(cfg)
		if err != nil {
			return err
		}
		authn, err := newAuthenticator(cfg)
		if err != nil {
			return err
		}

		eng := engine.New(r, authn, &clock.RealClock{}).WithChunkSize(cfg.Server.ChunkSize)
		srv := transport.NewServer(eng, r, transport.Options{
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpServer := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			glog.Infof("serving %s on %s (realm %q)", cfg.Repository.Path, cfg.Server.Addr, cfg.Server.Realm)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if cfg.Repository.Watch {
			g.Go(func() error {
				return r.Watch(gctx, func(rev int64) {
					glog.Infof("r%d available to %d active sessions", rev, srv.Registry().Len())
				})
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				glog.Warningf("server forced to shutdown: %v", err)
			}
			glog.Infof("server stopped")
			return nil
		})

		if !jsonOutput {
			PrintSuccess("Listening on " + cfg.Server.Addr)
			if !cfg.Repository.Watch {
				PrintWarning("Not watching for revisions committed by other processes")
			}
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveRealm, "realm", "", "Authentication realm (overrides server.realm)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch for revisions committed by other processes")
}
