// Package dashboard serves the operator API: registry reads, a live change
// stream, and operator actions forwarded to the desk daemon.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frontdesk/internal/models"
	"github.com/zulandar/frontdesk/internal/telegraph"
)

// journalReader is the read side of the journal store.
type journalReader interface {
	Recent(limit int) ([]models.JournalEntry, error)
	ForChannel(id string, limit int) ([]models.JournalEntry, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Daemon  *telegraph.Daemon
	Journal journalReader // optional; enables /api/journal
	Addr    string        // defaults to 127.0.0.1:8080
	Out     io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Daemon == nil {
		return fmt.Errorf("dashboard: daemon is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           newRouter(opts.Daemon, opts.Journal),
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived event streams end with ctx rather than holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with every route registered.
func newRouter(d *telegraph.Daemon, j journalReader) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, d, j)
	return router
}
