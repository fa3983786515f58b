package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ojscraper/internal/scraper/model"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// IDPlaceholder is substituted with the submission id in the URL template.
	IDPlaceholder       = "{id}"
	DefaultURLTemplate  = "https://oj.uz/submission/{id}"
	DefaultTimeout      = 30 * time.Second
	// DefaultMaxPageBytes caps a page body; larger pages are dropped, never truncated.
	DefaultMaxPageBytes = 16 << 20
)

// Config holds item source settings.
type Config struct {
	URLTemplate  string
	Timeout      time.Duration
	UserAgent    string
	MaxPageBytes int64
}

// Fetcher downloads and parses one submission page per call. It never retries:
// an item that fails is reported as dropped and offered again by the coordinator.
type Fetcher struct {
	client       *http.Client
	urlTemplate  string
	origin       string
	userAgent    string
	maxPageBytes int64
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying http.Client. Its Timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		if hc != nil {
			f.client = hc
		}
	}
}

func NewFetcher(cfg Config, opts ...Option) (*Fetcher, error) {
	tmpl := strings.TrimSpace(cfg.URLTemplate)
	if tmpl == "" {
		tmpl = DefaultURLTemplate
	}
	origin, err := TemplateOrigin(tmpl)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := cfg.MaxPageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPageBytes
	}
	f := &Fetcher{
		client:       &http.Client{Timeout: timeout},
		urlTemplate:  tmpl,
		origin:       origin,
		userAgent:    cfg.UserAgent,
		maxPageBytes: maxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// TemplateOrigin validates a URL template and returns its scheme://host part,
// which is used to make relative links absolute.
func TemplateOrigin(tmpl string) (string, error) {
	if !strings.Contains(tmpl, IDPlaceholder) {
		return "", appErr.Newf(appErr.InvalidConfig, "url template %q has no %s placeholder", tmpl, IDPlaceholder)
	}
	u, err := url.Parse(strings.ReplaceAll(tmpl, IDPlaceholder, "0"))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidConfig, "invalid url template %q", tmpl)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", appErr.Newf(appErr.InvalidConfig, "url template %q must be absolute", tmpl)
	}
	return u.Scheme + "://" + u.Host, nil
}

// URL resolves id against the template.
func (f *Fetcher) URL(id int64) string {
	return strings.ReplaceAll(f.urlTemplate, IDPlaceholder, strconv.FormatInt(id, 10))
}

// Fetch retrieves and parses the page for id.
func (f *Fetcher) Fetch(ctx context.Context, id int64) model.Outcome {
	pageURL := f.URL(id)
	page, status, err := f.get(ctx, pageURL)
	if err != nil {
		logger.Error(ctx, "fetch submission failed", zap.Int64("id", id), zap.String("url", pageURL), zap.Error(err))
		return model.Dropped(id)
	}
	switch {
	case status == http.StatusNotFound:
		logger.Info(ctx, "submission not found", zap.Int64("id", id))
		return model.NotFound(id)
	case status != http.StatusOK:
		err := appErr.Newf(appErr.UnexpectedStatus, "unexpected status %d", status).WithDetail("url", pageURL)
		logger.Warn(ctx, "submission returned unexpected status", zap.Int64("id", id), zap.Int("status", status), zap.Error(err))
		return model.Dropped(id)
	}

	rec, err := Parse(id, page, f.origin)
	if err != nil {
		logger.Error(ctx, "submission metadata missing", zap.Int64("id", id), zap.Error(err))
		return model.Dropped(id)
	}
	logger.Debug(ctx, "parsed submission",
		zap.Int64("id", id),
		zap.String("user", rec.Username),
		zap.String("problem", rec.ProblemLink),
		zap.String("language", rec.Language),
		zap.Float64("score", rec.Score),
	)
	return model.Found(rec)
}

// get performs the single GET attempt. The body is only read for 200 responses.
func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.TransportFailed, "fetch %s", pageURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxPageBytes+1))
	if err != nil {
		return nil, resp.StatusCode, appErr.Wrapf(err, appErr.BodyReadFailed, "read %s", pageURL)
	}
	if int64(len(body)) > f.maxPageBytes {
		return nil, resp.StatusCode, appErr.Newf(appErr.BodyReadFailed, "page %s exceeds %d bytes", pageURL, f.maxPageBytes)
	}
	return body, resp.StatusCode, nil
}
