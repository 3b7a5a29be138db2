package download

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/utils/metrics"
)

const defaultContentType = "image/png"

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("download url must be an absolute http or https url")

	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("download exceeds size limit")
)

// StatusError is a non-200 reply of the image host.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download returned status %d", e.StatusCode)
}

// Artifact is a downloaded image ready to be saved by the client.
type Artifact struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	Base64      string `json:"data"`
}

// Filename returns the save name for the index-th image of a run.
func Filename(at time.Time, index int) string {
	return fmt.Sprintf("wuhu_gen_%d_%d.png", at.Unix(), index+1)
}

// Config contains relay configuration.
type Config struct {
	MaxBytes int64
}

// ConfigFrom maps the download section of the application config.
func ConfigFrom(dc config.DownloadConfig) *Config {
	return &Config{MaxBytes: dc.MaxBytes}
}

// Relay fetches generated images so the client can save them under a stable name.
type Relay struct {
	httpClient *http.Client
	cache      BlobCache
	config     *Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewRelay creates a download relay. cache may be nil.
func NewRelay(httpClient *http.Client, cache BlobCache, cfg *Config, logger *zap.Logger, m *metrics.Metrics) *Relay {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		httpClient: httpClient,
		cache:      cache,
		config:     cfg,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Fetch downloads rawURL. index is the zero-based position of the image in its run.
func (r *Relay) Fetch(ctx context.Context, rawURL string, index int) (*Artifact, error) {
	if err := validateURL(rawURL); err != nil {
		r.metrics.RecordDownload(false)
		return nil, err
	}

	if blob := r.lookup(ctx, rawURL); blob != nil {
		r.metrics.RecordDownload(true)
		return r.artifact(blob, index), nil
	}

	blob, err := r.get(ctx, rawURL)
	if err != nil {
		r.metrics.RecordDownload(false)
		r.logger.Warn("download failed", zap.String("url", rawURL), zap.Error(err))
		return nil, err
	}
	r.metrics.RecordDownload(true)

	if r.cache != nil {
		if err := r.cache.Set(ctx, rawURL, blob); err != nil {
			r.logger.Warn("download cache write failed", zap.Error(err))
		}
	}

	return r.artifact(blob, index), nil
}

func (r *Relay) lookup(ctx context.Context, rawURL string) *Blob {
	if r.cache == nil {
		return nil
	}
	blob, err := r.cache.Get(ctx, rawURL)
	if err != nil {
		r.logger.Warn("download cache read failed", zap.Error(err))
		return nil
	}
	return blob
}

func (r *Relay) get(ctx context.Context, rawURL string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if r.config.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, r.config.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if r.config.MaxBytes > 0 && int64(len(data)) > r.config.MaxBytes {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Blob{ContentType: contentType, Data: data}, nil
}

func (r *Relay) artifact(blob *Blob, index int) *Artifact {
	contentType := blob.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Artifact{
		Filename:    Filename(r.now(), index),
		ContentType: contentType,
		Data:        blob.Data,
		Base64:      base64.StdEncoding.EncodeToString(blob.Data),
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	return nil
}
