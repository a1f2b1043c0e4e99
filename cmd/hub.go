package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
)

var hubAddr string

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the sync hub other processes connect to",
	Long: `Run a WebSocket relay on --addr. Every chatsync process started with
--hub ws://<addr>/ws (or hub_url in the config) sees the others' changes and
generations. The hub stores nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.HubAddr
		if cmd.Flags().Changed("addr") {
			addr = hubAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s ws://%s/ws\n", successStyle.Render("✓ Hub listening on"), ln.Addr())
		return serveHub(ctx, ln)
	},
}

// serveHub runs the relay on ln until ctx is done.
func serveHub(ctx context.Context, ln net.Listener) error {
	relay := bus.NewWSRelay()
	mux := http.NewServeMux()
	mux.Handle("/ws", relay)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "peers": relay.Peers()})
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		internal.LogInfo("hub shutting down, %d peer(s) connected", relay.Peers())
		relay.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.Flags().StringVar(&hubAddr, "addr", "", "Listen address (default from config, 127.0.0.1:7878)")
}
