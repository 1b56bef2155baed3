// Package handlers implements the REST surface over the session
// manager.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quantfold/lobstream/internal/cache"
	"github.com/quantfold/lobstream/internal/services"
	"github.com/quantfold/lobstream/internal/session"
)

type SessionHandler struct {
	manager    *session.Manager
	cache      *cache.SnapshotCache
	indicators *services.IndicatorService
}

func NewSessionHandler(manager *session.Manager, snapshotCache *cache.SnapshotCache, indicators *services.IndicatorService) *SessionHandler {
	return &SessionHandler{
		manager:    manager,
		cache:      snapshotCache,
		indicators: indicators,
	}
}

// SessionListResponse wraps the session listing.
type SessionListResponse struct {
	Sessions  []session.Info `json:"sessions"`
	Total     int            `json:"total"`
	Timestamp time.Time      `json:"timestamp"`
}

// SpeedRequest is the body for the speed control command. Speed is a
// pointer so a literal 0 binds as present and gets clamped downstream.
type SpeedRequest struct {
	Speed *int `json:"speed" binding:"required"`
}

// CreateSession starts a new analytics session. The source fallback
// chain runs once here; the resulting mode is in the response.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	sess, err := h.manager.Create(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess.Info())
}

// ListSessions returns all sessions, oldest first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	infos := h.manager.List()
	c.JSON(http.StatusOK, SessionListResponse{
		Sessions:  infos,
		Total:     len(infos),
		Timestamp: time.Now().UTC(),
	})
}

// GetSession returns one session's summary.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// CloseSession tears a session down.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.manager.Close(sess.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.cache != nil {
		_ = h.cache.Delete(c.Request.Context(), sess.ID.String())
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// GetFeatures returns the newest buffered snapshots, oldest first.
// limit defaults to the full buffer.
func (h *SessionHandler) GetFeatures(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, sess.Buffer.Tail(limit))
}

// GetLatestSnapshot serves the most recent enriched snapshot, trying
// the Redis cache before the session buffer. An empty object means no
// snapshot has been produced yet.
func (h *SessionHandler) GetLatestSnapshot(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.cache != nil {
		if snap, ok := h.cache.GetLatest(c.Request.Context(), sess.ID.String()); ok {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	if snap, ok := sess.Buffer.Latest(); ok {
		c.JSON(http.StatusOK, snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// GetAnomalies returns every anomaly currently in the buffer, flattened
// and tagged with its snapshot timestamp.
func (h *SessionHandler) GetAnomalies(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Buffer.Anomalies())
}

// GetIndicators computes technical indicators over the buffered mid
// prices.
func (h *SessionHandler) GetIndicators(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.indicators.Compute(sess.Buffer.Items()))
}

// Control dispatches a playback command: start, pause, resume or stop.
func (h *SessionHandler) Control(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	switch c.Param("command") {
	case "start":
		sess.Controller.Start()
	case "pause":
		sess.Controller.Pause()
	case "resume":
		sess.Controller.Resume()
	case "stop":
		sess.Controller.Stop()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
		return
	}
	c.JSON(http.StatusOK, sess.Controller.Status())
}

// SetSpeed updates the playback speed multiplier. Values below 1 are
// clamped to 1.
func (h *SessionHandler) SetSpeed(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "speed is required"})
		return
	}
	sess.Controller.SetSpeed(*req.Speed)
	c.JSON(http.StatusOK, sess.Controller.Status())
}

// ServeWS upgrades the connection and attaches it to the session's hub.
func (h *SessionHandler) ServeWS(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	sess.Hub.ServeWS(c.Writer, c.Request)
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	sess, ok := h.manager.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return sess, true
}
