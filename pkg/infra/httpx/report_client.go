package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/types"
)

const (
	contentTypeSingleReport = "application/csp-report"
	contentTypeBatch        = "application/json"

	// gzipThreshold skips compression for bodies too small to benefit.
	gzipThreshold = 1024

	defaultAttempts = 3
)

// ReportClient posts violation reports to the reporting transport.
type ReportClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
	backoff    BackoffConfig
	attempts   int
}

// ReportClientOpts carries optional overrides.
type ReportClientOpts struct {
	HTTPClient *http.Client
	Backoff    *BackoffConfig
	Attempts   int
}

func NewReportClient(endpoint string, logger *logrus.Logger, opts *ReportClientOpts) *ReportClient {
	c := &ReportClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		backoff:    DefaultBackoffConfig(),
		attempts:   defaultAttempts,
	}
	if opts != nil {
		if opts.HTTPClient != nil {
			c.httpClient = opts.HTTPClient
		}
		if opts.Backoff != nil {
			c.backoff = *opts.Backoff
		}
		if opts.Attempts > 0 {
			c.attempts = opts.Attempts
		}
	}
	return c
}

type reportPayload struct {
	Reports  []types.CSPViolation   `json:"reports"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Send posts the batch, retrying with backoff. Single reports go out as
// application/csp-report, batches as application/json with a gzip body.
// Any non-2xx response counts as a failure.
func (c *ReportClient) Send(ctx context.Context, reports []types.CSPViolation, metadata map[string]interface{}) error {
	if c.endpoint == "" {
		return fmt.Errorf("report endpoint not configured")
	}

	body, err := json.Marshal(reportPayload{Reports: reports, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("failed to encode report payload: %w", err)
	}

	contentType := contentTypeBatch
	if len(reports) == 1 {
		contentType = contentTypeSingleReport
	}

	encoding := ""
	if len(body) >= gzipThreshold {
		compressed, gzErr := gzipBody(body)
		if gzErr != nil {
			c.logger.WithError(gzErr).Warn("failed to compress report batch, sending plain")
		} else {
			body = compressed
			encoding = "gzip"
		}
	}

	return Retry(ctx, c.attempts, c.backoff, func() error {
		return c.post(ctx, body, contentType, encoding)
	})
}

func (c *ReportClient) post(ctx context.Context, body []byte, contentType, encoding string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("report request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("report endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
