// Package handlers exposes the scan workflow and the result history over
// HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/auth"
	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/imagesource"
	"github.com/example/plant-scan/internal/workflow"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead is the slack allowed on top of the file size for the
// multipart envelope.
const multipartOverhead = 1 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
}

// Scanner is the workflow surface the API drives.
type Scanner interface {
	Snapshot() workflow.Snapshot
	SelectImage(uri string) bool
	Acquire(ctx context.Context, src imagesource.Source) (bool, error)
	Analyze() bool
	Reset()
	Await(ctx context.Context) (workflow.Snapshot, error)
}

// Results is the history surface the API reads and clears.
type Results interface {
	List() []history.PredictionResult
	GetByID(id string) (history.PredictionResult, bool)
	Summary() history.Summary
	Clear(ctx context.Context) error
}

// Uploads persists uploaded image bodies and returns a local handle.
// Discard removes a handle the workflow did not take.
type Uploads interface {
	Save(r io.Reader, ext string) (string, error)
	Discard(path string) error
}

// Dependencies groups what RegisterRoutes needs. Metrics and Guard are
// optional.
type Dependencies struct {
	Scanner       Scanner
	Results       Results
	Uploads       Uploads
	Metrics       http.Handler
	Guard         gin.HandlerFunc
	MaxUploadSize int64
	Logger        *zap.Logger
}

type api struct {
	scanner   Scanner
	results   Results
	uploads   Uploads
	maxUpload int64
	logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	a := &api{
		scanner:   deps.Scanner,
		results:   deps.Results,
		uploads:   deps.Uploads,
		maxUpload: deps.MaxUploadSize,
		logger:    deps.Logger,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = MaxUploadSize
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.Named("http")

	guard := deps.Guard
	if guard == nil {
		guard = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	scan := router.Group("/scan")
	scan.GET("", a.getScan)
	scan.POST("/image", guard, a.uploadImage)
	scan.POST("/gallery", guard, a.acquire(imagesource.SourceGallery))
	scan.POST("/camera", guard, a.acquire(imagesource.SourceCamera))
	scan.POST("/analyze", guard, a.analyze)
	scan.POST("/reset", guard, a.reset)

	results := router.Group("/results")
	results.GET("", a.listResults)
	results.GET("/summary", a.summary)
	results.GET("/:id", a.getResult)
	results.DELETE("", guard, a.clearResults)
}

// getScan returns the current snapshot. With wait=true it blocks until the
// workflow leaves Processing or the request is cancelled.
func (a *api) getScan(c *gin.Context) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		c.JSON(http.StatusOK, a.scanner.Snapshot())
		return
	}
	snap, err := a.scanner.Await(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "scan still processing", "scan": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *api) uploadImage(c *gin.Context) {
	if !a.scanner.Snapshot().State.Selectable() {
		a.conflict(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > a.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	ext, ok := allowedImageTypes[file.Header.Get("Content-Type")]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be JPEG or PNG"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	path, err := a.uploads.Save(src, ext)
	if err != nil {
		a.logger.Error("spool upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	if !a.scanner.SelectImage(path) {
		if err := a.uploads.Discard(path); err != nil {
			a.logger.Warn("discarding refused upload failed", zap.String("path", path), zap.Error(err))
		}
		a.conflict(c)
		return
	}
	c.JSON(http.StatusOK, a.scanner.Snapshot())
}

func (a *api) conflict(c *gin.Context) {
	c.JSON(http.StatusConflict, gin.H{"error": "scan in progress; reset first", "scan": a.scanner.Snapshot()})
}

func (a *api) acquire(src imagesource.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		selected, err := a.scanner.Acquire(c.Request.Context(), src)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": workflow.ErrorKind(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"selected": selected, "scan": a.scanner.Snapshot()})
	}
}

func (a *api) analyze(c *gin.Context) {
	if !a.scanner.Analyze() {
		c.JSON(http.StatusConflict, gin.H{"error": "no image ready for analysis", "scan": a.scanner.Snapshot()})
		return
	}
	snap := a.scanner.Snapshot()
	if operator, ok := auth.Operator(c.Request.Context()); ok {
		a.logger.Info("analysis requested", zap.String("operator", operator), zap.String("image_uri", snap.ImageURI))
	}
	c.JSON(http.StatusAccepted, snap)
}

func (a *api) reset(c *gin.Context) {
	a.scanner.Reset()
	c.JSON(http.StatusOK, a.scanner.Snapshot())
}

func (a *api) listResults(c *gin.Context) {
	results := a.results.List()
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (a *api) summary(c *gin.Context) {
	c.JSON(http.StatusOK, a.results.Summary())
}

func (a *api) getResult(c *gin.Context) {
	result, ok := a.results.GetByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *api) clearResults(c *gin.Context) {
	if err := a.results.Clear(c.Request.Context()); err != nil {
		a.logger.Error("clear history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear history"})
		return
	}
	c.Status(http.StatusNoContent)
}
