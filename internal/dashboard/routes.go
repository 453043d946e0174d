package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frontdesk/internal/channel"
	"github.com/zulandar/frontdesk/internal/models"
	"github.com/zulandar/frontdesk/internal/telegraph"
)

// defaultJournalLimit caps /api/journal when no limit is given.
const defaultJournalLimit = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, d *telegraph.Daemon, j journalReader) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/channels", handleSnapshot(d.Registry()))
	api.GET("/channels/:id", handleChannel(d.Registry()))
	api.GET("/events", handleSSE(d.Registry()))
	api.GET("/journal", handleJournal(j))

	api.POST("/channels/:id/attend", handleAction(d, func(ctx context.Context, disp *telegraph.Dispatcher, id string) error {
		return disp.Attend(ctx, id)
	}))
	api.POST("/channels/:id/focus", handleAction(d, func(ctx context.Context, disp *telegraph.Dispatcher, id string) error {
		return disp.Focus(ctx, id)
	}))
	api.POST("/channels/:id/read", handleAction(d, func(ctx context.Context, disp *telegraph.Dispatcher, id string) error {
		return disp.MarkRead(ctx, id)
	}))
	api.POST("/channels/:id/close", handleAction(d, func(ctx context.Context, disp *telegraph.Dispatcher, id string) error {
		return disp.Close(ctx, id)
	}))
	api.POST("/channels/:id/messages", handleSend(d))
	api.POST("/sessions", handleStartSession(d))
}

func handleSnapshot(reg *channel.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Snapshot())
	}
}

func handleChannel(reg *channel.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, ok := reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusOK, ch)
	}
}

func handleJournal(j journalReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if j == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}
		limit := defaultJournalLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		var (
			entries []models.JournalEntry
			err     error
		)
		if id := c.Query("channel"); id != "" {
			entries, err = j.ForChannel(id, limit)
		} else {
			entries, err = j.Recent(limit)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// actionFunc is an operator intent run on the daemon loop.
type actionFunc func(ctx context.Context, disp *telegraph.Dispatcher, id string) error

func handleAction(d *telegraph.Daemon, fn actionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()
		err := d.Do(ctx, func(disp *telegraph.Dispatcher) error {
			return fn(ctx, disp, id)
		})
		respondAction(c, err)
	}
}

// sendRequest is the body of POST /api/channels/:id/messages.
type sendRequest struct {
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
	FileName  string `json:"fileName"`
}

func handleSend(d *telegraph.Daemon) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
		m := telegraph.Media{
			URL:      req.MediaURL,
			Type:     req.MediaType,
			FileName: req.FileName,
			Caption:  req.Text,
		}
		handleAction(d, func(ctx context.Context, disp *telegraph.Dispatcher, id string) error {
			return disp.SendMedia(ctx, id, m)
		})(c)
	}
}

// startRequest is the body of POST /api/sessions.
type startRequest struct {
	SessionID string `json:"sessionId"`
	Sector    string `json:"sector"`
}

func handleStartSession(d *telegraph.Daemon) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
		ctx := c.Request.Context()
		err := d.Do(ctx, func(disp *telegraph.Dispatcher) error {
			return disp.StartSession(ctx, req.SessionID, req.Sector)
		})
		respondAction(c, err)
	}
}

// respondAction maps a dispatcher error onto an HTTP status. Emit failures
// come back as 502 even though the local update already happened.
func respondAction(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, telegraph.ErrStaleChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, telegraph.ErrEmptyMessage), errors.Is(err, channel.ErrMissingKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, telegraph.ErrDaemonStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "applied": true})
	}
}
