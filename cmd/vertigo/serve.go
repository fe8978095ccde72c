package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/vertigo/bind"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the binding protocol",
	Long: `Serve the binding protocol to a remote caller.

With --stdio, requests are read from stdin and responses and callback
events are written to stdout, one JSON document per line. The session
ends at end of input.

Otherwise an HTTP server accepts WebSocket sessions, one per connection.

Endpoints:
  GET /session   WebSocket session (text messages, one request each)
  GET /health    Health check`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("stdio", false, "Serve one session on stdin/stdout")
	serveCmd.Flags().String("listen", "127.0.0.1:8080", "Address for WebSocket sessions")
	serveCmd.Flags().Duration("drain-timeout", 10*time.Second, "Time allowed for pending calls at shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	stdio, _ := cmd.Flags().GetBool("stdio")
	addr, _ := cmd.Flags().GetString("listen")
	drain, _ := cmd.Flags().GetDuration("drain-timeout")

	in, err := start(cmd)
	if err != nil {
		return err
	}
	defer in.stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if stdio {
		return serveStdio(ctx, cmd, in.rt, drain)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, ln, in.rt, drain)
}

func serveStdio(ctx context.Context, cmd *cobra.Command, rt *bind.Runtime, drain time.Duration) error {
	s := rt.NewSession(bind.LineWriter(cmd.OutOrStdout()))
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, cmd.InOrStdin())
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	return s.Flush(flushCtx)
}

func newServeMux(rt *bind.Runtime) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/session", rt.WebSocketHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func serveHTTP(ctx context.Context, ln net.Listener, rt *bind.Runtime, drain time.Duration) error {
	srv := &http.Server{
		Handler:           newServeMux(rt),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	bind.Logger().Info("listening", zap.String("addr", ln.Addr().String()))
	fmt.Fprintf(os.Stderr, "vertigo listening on ws://%s/session\n", ln.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
