package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ai"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ingest"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/session"
)

type SessionManager interface {
	Create() *session.Controller
	Get(id string) (*session.Controller, error)
	Delete(id string) error
}

// Handler wires HTTP routes to the session registry.
type Handler struct {
	sessions     SessionManager
	limiter      *callRateLimiter
	maxFileBytes int64
}

type HandlerConfig struct {
	MaxFileBytes   int64
	CallsPerMinute int
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions SessionManager, cfg HandlerConfig) *Handler {
	return &Handler{
		sessions:     sessions,
		limiter:      newCallRateLimiter(cfg.CallsPerMinute, time.Minute),
		maxFileBytes: cfg.MaxFileBytes,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/sessions", h.createSession)
	sessionRoutes := api.Group("/sessions/:id")
	sessionRoutes.Use(h.loadSession())
	sessionRoutes.GET("", h.getSession)
	sessionRoutes.DELETE("", h.deleteSession)
	sessionRoutes.POST("/files", h.filesUpload)
	sessionRoutes.DELETE("/files/:index", h.removePending)
	sessionRoutes.POST("/analyze", h.analyze)
	sessionRoutes.POST("/messages", h.captureInput)
	sessionRoutes.POST("/reset", h.reset)
}

const sessionKey = "aria.session"

// loadSession resolves :id to a live controller.
func (h *Handler) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl, err := h.sessions.Get(c.Param("id"))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(sessionKey, ctrl)
		c.Next()
	}
}

func current(c *gin.Context) *session.Controller {
	return c.MustGet(sessionKey).(*session.Controller)
}

// statusFor maps operation errors to HTTP status codes.
func statusFor(err error) int {
	var extErr *ingest.ExtractionError
	var svcErr *ai.ServiceError
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &extErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *Handler) createSession(c *gin.Context) {
	ctrl := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session_id": ctrl.ID()})
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Snapshot())
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := current(c).ID()
	if err := h.sessions.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	h.limiter.Forget(id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) reset(c *gin.Context) {
	ctrl := current(c)
	if err := ctrl.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) filesUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files are required"})
		return
	}
	files := make([]models.RawFile, 0, len(headers))
	for _, fh := range headers {
		if h.maxFileBytes > 0 && fh.Size > h.maxFileBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("%s is larger than %s", fh.Filename, humanize.IBytes(uint64(h.maxFileBytes))),
			})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
			return
		}
		files = append(files, models.RawFile{
			Name:      filepath.Base(fh.Filename),
			SizeBytes: int64(len(data)),
			Bytes:     data,
		})
	}
	ctrl := current(c)
	res := ctrl.QueueFiles(files)
	body := gin.H{
		"accepted": res.Accepted,
		"rejected": res.Rejected,
		"session":  ctrl.Snapshot(),
	}
	if len(res.Rejected) > 0 {
		body["supported"] = ingest.SupportedExtensions()
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) removePending(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	ctrl := current(c)
	ctrl.RemovePending(index)
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) analyze(c *gin.Context) {
	ctrl := current(c)
	// refused calls must not use up the paid-call quota
	snap := ctrl.Snapshot()
	if len(snap.PendingFiles) == 0 {
		writeError(c, session.ErrEmptyInput)
		return
	}
	if snap.Busy != models.Idle {
		writeError(c, session.ErrBusy)
		return
	}
	if !h.limiter.Allow(ctrl.ID()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many analysis requests, please retry later"})
		return
	}
	// a paid call already in flight finishes even if the client goes away
	reply, err := ctrl.RunAnalysis(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": ctrl.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "session": ctrl.Snapshot()})
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) captureInput(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(c, session.ErrEmptyInput)
		return
	}
	ctrl := current(c)
	if ctrl.Snapshot().Busy != models.Idle {
		writeError(c, session.ErrBusy)
		return
	}
	if !h.limiter.Allow(ctrl.ID()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, please retry later"})
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("ack", gin.H{
		"message": models.ChatTurn{Role: models.RoleUser, Content: req.Content, CreatedAt: time.Now()},
	}); err != nil {
		return
	}

	reply, err := ctrl.SendMessage(context.WithoutCancel(c.Request.Context()), req.Content)
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error(), "status": statusFor(err)})
		return
	}
	_ = sendEvent("done", gin.H{
		"ai_message": models.ChatTurn{Role: models.RoleAssistant, Content: reply, CreatedAt: time.Now()},
	})
}
