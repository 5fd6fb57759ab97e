package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/document/service"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/internal/storage"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
)

// DefaultMaxUploadSize caps cover uploads when Options.MaxUploadSize is unset.
const DefaultMaxUploadSize = 5 << 20

// heartbeat keeps idle event streams open through proxies.
var heartbeat = 25 * time.Second

// FileServer reads hosted cover images back out of object storage.
type FileServer interface {
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

// Options wires the optional collaborators of the document routes. Nil
// middlewares are skipped; a nil Events disables the change stream and a
// nil Files disables /api/files. Closing Done ends every open change stream.
type Options struct {
	Auth          gin.HandlerFunc
	OptionalAuth  gin.HandlerFunc
	Limit         gin.HandlerFunc
	Events        events.Broker
	Files         FileServer
	MaxUploadSize int64
	Done          <-chan struct{}
}

// Handler serves the document tree over HTTP.
type Handler struct {
	svc       service.Service
	events    events.Broker
	files     FileServer
	maxUpload int64
	done      <-chan struct{}
}

// RegisterDocumentRoutes mounts the document, cascade, file and preview routes.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, opts Options) *Handler {
	h := &Handler{svc: svc, events: opts.Events, files: opts.Files, maxUpload: opts.MaxUploadSize, done: opts.Done}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadSize
	}
	required := chain(opts.Auth, opts.Limit)
	optional := chain(opts.OptionalAuth, opts.Limit)

	docs := r.Group("/api/documents")
	docs.POST("", with(required, h.create)...)
	docs.GET("/sidebar", with(required, h.sidebar)...)
	docs.GET("/trash", with(required, h.trash)...)
	docs.GET("/search", with(required, h.search)...)
	if h.events != nil {
		docs.GET("/events", with(required, h.stream)...)
	}
	docs.GET("/:id", with(optional, h.get)...)
	docs.PATCH("/:id", with(required, h.update)...)
	docs.DELETE("/:id", with(required, h.remove)...)
	docs.POST("/:id/archive", with(required, h.archive)...)
	docs.POST("/:id/restore", with(required, h.restore)...)
	docs.DELETE("/:id/icon", with(required, h.removeIcon)...)
	docs.DELETE("/:id/cover", with(required, h.removeCover)...)
	docs.POST("/:id/cover", with(required, h.uploadCover)...)

	r.GET("/api/cascades/:id", with(required, h.cascade)...)
	r.GET("/preview/:id", with(optional, h.get)...)
	if h.files != nil {
		r.GET("/api/files/*key", h.serveFile)
	}
	return h
}

func chain(mw ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func with(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	return append(append(out, mw...), h)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, document.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, document.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, document.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoStorage):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("document request failed", "method", c.Request.Method, "route", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) create(c *gin.Context) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.Create(c.Request.Context(), middleware.Subject(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) sidebar(c *gin.Context) {
	var parent *string
	if p := c.Query("parentId"); p != "" {
		parent = &p
	}
	docs, err := h.svc.GetSidebar(c.Request.Context(), middleware.Subject(c), parent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(docs))
}

func (h *Handler) trash(c *gin.Context) {
	docs, err := h.svc.GetTrash(c.Request.Context(), middleware.Subject(c), c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(docs))
}

func (h *Handler) search(c *gin.Context) {
	docs, err := h.svc.GetSearch(c.Request.Context(), middleware.Subject(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list(docs))
}

// list renders nil as [] so clients always get an array.
func list(docs []*document.Document) []*document.Document {
	if docs == nil {
		return []*document.Document{}
	}
	return docs
}

func (h *Handler) get(c *gin.Context) {
	d, err := h.svc.GetDocument(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) update(c *gin.Context) {
	var in service.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.Update(c.Request.Context(), middleware.Subject(c), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) archive(c *gin.Context) {
	d, job, err := h.svc.Archive(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	h.cascadeResponse(c, d, job, err)
}

func (h *Handler) restore(c *gin.Context) {
	d, job, err := h.svc.Restore(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	h.cascadeResponse(c, d, job, err)
}

// cascadeResponse answers 202 while the subtree walk is still running and 200
// once it has finished.
func (h *Handler) cascadeResponse(c *gin.Context, d *document.Document, job *service.CascadeJob, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if job != nil && !job.Done() {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"document": d, "job": job})
}

func (h *Handler) remove(c *gin.Context) {
	policy, err := service.ParseRemovePolicy(c.Query("children"))
	if err != nil {
		writeError(c, err)
		return
	}
	d, err := h.svc.Remove(c.Request.Context(), middleware.Subject(c), c.Param("id"), policy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) removeIcon(c *gin.Context) {
	d, err := h.svc.RemoveIcon(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) removeCover(c *gin.Context) {
	d, err := h.svc.RemoveCoverImage(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) uploadCover(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	d, err := h.svc.UploadCover(c.Request.Context(), middleware.Subject(c), c.Param("id"), service.CoverUpload{
		Reader:      f,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Filename:    fh.Filename,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) cascade(c *gin.Context) {
	job, err := h.svc.GetCascade(c.Request.Context(), middleware.Subject(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// stream pushes the caller's change events as server-sent events until the
// client goes away or the server shuts down.
func (h *Handler) stream(c *gin.Context) {
	sub := middleware.Subject(c)
	if sub == "" {
		writeError(c, document.ErrUnauthenticated)
		return
	}
	ctx := c.Request.Context()
	ch, err := h.events.Subscribe(ctx, sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"ownerId": sub})
	c.Writer.Flush()

	tick := time.NewTicker(heartbeat)
	defer tick.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		case <-tick.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		}
	})
}

func (h *Handler) serveFile(c *gin.Context) {
	key, ok := service.HostedKey(service.FilesPathPrefix + strings.TrimPrefix(c.Param("key"), "/"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rc, info, err := h.files.Open(c.Request.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		logger.Errorw("open hosted file", "key", key, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "storage unavailable"})
		return
	}
	defer rc.Close()
	headers := map[string]string{"Cache-Control": "public, max-age=31536000, immutable"}
	if info.ETag != "" {
		headers["ETag"] = `"` + info.ETag + `"`
	}
	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size, ct, rc, headers)
}
