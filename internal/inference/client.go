package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/logging"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultImageSize   = 224
	defaultJPEGQuality = 80
	defaultTopN        = 1
	predictPath        = "/predict"
	maxResponseBytes   = 1 << 20
)

// Config describes how to reach the inference service and how images are
// prepared for it. Zero values fall back to defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ImageSize   uint
	JPEGQuality int
	// TopN bounds the number of ranked predictions returned.
	TopN int
}

// HTTPClient calls the inference service over HTTP. Each Predict issues
// exactly one request; retries are left to the caller.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type predictRequest struct {
	Image string `json:"image"`
}

// NewHTTPClient returns a ready-to-use client. httpClient may be nil.
func NewHTTPClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("inference base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = defaultImageSize
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaultJPEGQuality
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{cfg: cfg, http: httpClient, logger: logger.Named("inference")}, nil
}

// Predict encodes the image, submits it and returns the ranked, truncated
// predictions.
func (c *HTTPClient) Predict(ctx context.Context, imageURI string) ([]Prediction, error) {
	opLogger := logging.WithOperation(c.logger, "inference.predict", "").With(zap.String("image_uri", imageURI))

	encoded, err := EncodeImage(imageURI, c.cfg.ImageSize, c.cfg.ImageSize, c.cfg.JPEGQuality)
	if err != nil {
		opLogger.Warn("image preprocessing failed", zap.Error(err))
		return nil, err
	}

	payload, err := json.Marshal(predictRequest{Image: encoded})
	if err != nil {
		return nil, &PreprocessingError{ImageURI: imageURI, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+predictPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := &ServiceError{Err: err}
		opLogger.Error("inference request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		wrapped := &ServiceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		opLogger.Error("failed to read inference response", zap.Error(wrapped))
		return nil, wrapped
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wrapped := &ServiceError{StatusCode: resp.StatusCode, Body: string(body)}
		opLogger.Error("inference service rejected request", zap.Int("status", resp.StatusCode))
		return nil, wrapped
	}

	preds, err := parseResponse(body)
	if err != nil {
		wrapped := &ServiceError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
		opLogger.Error("malformed inference response", zap.Error(wrapped))
		return nil, wrapped
	}

	ranked := Rank(preds, c.cfg.TopN)
	opLogger.Debug("inference complete",
		zap.Duration("latency", time.Since(start)),
		zap.Int("returned", len(preds)),
		zap.Int("kept", len(ranked)),
	)
	return ranked, nil
}

var _ Client = (*HTTPClient)(nil)
