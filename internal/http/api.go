package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trackersync/internal/domain"
	"trackersync/internal/repository"
	"trackersync/internal/service"
	"trackersync/internal/storage"
)

// Handler wires HTTP routes to the sync service. Mutating operations run one
// at a time so the registry file is never rewritten concurrently.
type Handler struct {
	sync   service.SyncService
	auth   *Authenticator
	logger *logrus.Logger
	mu     sync.Mutex
}

func NewHandler(svc service.SyncService, auth *Authenticator, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		sync:   svc,
		auth:   auth,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/login", h.login)

		protected := api.Group("")
		protected.Use(h.auth.Middleware())
		protected.POST("/releases", h.addRelease)
		protected.GET("/releases", h.listReleases)
		protected.DELETE("/releases/:id", h.removeRelease)
		protected.GET("/releases/:id/history", h.releaseHistory)
		protected.GET("/releases/:id/archive", h.releaseArchive)
		protected.POST("/sync", h.syncAll)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// collector gathers progress messages for the response body.
type collector struct {
	messages []string
}

func (c *collector) sink(message string) {
	c.messages = append(c.messages, message)
}

type addReleaseRequest struct {
	URL      string `json:"url" binding:"required"`
	SavePath string `json:"save_path" binding:"required"`
}

func (h *Handler) addRelease(c *gin.Context) {
	var req addReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var progress collector
	rel, err := h.sync.Add(c.Request.Context(), req.URL, req.SavePath, progress.sink)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrMalformedURL) || errors.Is(err, service.ErrSavePathRequired) ||
			errors.Is(err, service.ErrUnsupportedURL) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "messages": progress.messages})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"release":  releaseToResponse(rel),
		"messages": progress.messages,
	})
}

func (h *Handler) listReleases(c *gin.Context) {
	releases, err := h.sync.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ReleaseResponse, len(releases))
	for i := range releases {
		resp[i] = releaseToResponse(releases[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) removeRelease(c *gin.Context) {
	id, ok := releaseID(c)
	if !ok {
		return
	}

	deleteFiles, err := strconv.ParseBool(c.DefaultQuery("delete_files", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_files"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var progress collector
	removed, err := h.sync.Remove(c.Request.Context(), id, deleteFiles, progress.sink)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "messages": progress.messages})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "removed": removed, "messages": progress.messages})
}

func (h *Handler) syncAll(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var progress collector
	outcomes, err := h.sync.SyncAll(c.Request.Context(), progress.sink)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrCredentialsUnavailable) {
			status = http.StatusPreconditionFailed
		}
		c.JSON(status, gin.H{"error": err.Error(), "messages": progress.messages})
		return
	}

	resp := make([]OutcomeResponse, len(outcomes))
	for i := range outcomes {
		resp[i] = outcomeToResponse(outcomes[i])
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": resp, "messages": progress.messages})
}

func (h *Handler) releaseHistory(c *gin.Context) {
	id, ok := releaseID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	entries, err := h.sync.History(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := make([]HistoryResponse, len(entries))
	for i := range entries {
		resp[i] = historyToResponse(entries[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) releaseArchive(c *gin.Context) {
	id, ok := releaseID(c)
	if !ok {
		return
	}
	objects, err := h.sync.Archived(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func releaseID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid release id"})
		return "", false
	}
	return id, true
}

type ReleaseResponse struct {
	ID       string `json:"id"`
	SavePath string `json:"save_path"`
	URL      string `json:"url"`
}

type OutcomeResponse struct {
	ID       string `json:"id"`
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message"`
	InfoHash string `json:"info_hash,omitempty"`
}

type HistoryResponse struct {
	RunID     string `json:"run_id"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	InfoHash  string `json:"info_hash,omitempty"`
	CreatedAt string `json:"created_at"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func releaseToResponse(rel domain.Release) ReleaseResponse {
	return ReleaseResponse{ID: rel.ID, SavePath: rel.SavePath, URL: rel.SourceURL}
}

func outcomeToResponse(o domain.Outcome) OutcomeResponse {
	return OutcomeResponse{
		ID:       o.ReleaseID,
		OK:       o.OK,
		Reason:   string(o.Reason),
		Message:  o.Message,
		InfoHash: o.InfoHash,
	}
}

func historyToResponse(e domain.HistoryEntry) HistoryResponse {
	return HistoryResponse{
		RunID:     e.RunID,
		OK:        e.OK,
		Reason:    string(e.Reason),
		Message:   e.Message,
		InfoHash:  e.InfoHash,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
