package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SteelMorgan/logship/internal/domain"
	"github.com/SteelMorgan/logship/internal/observability"
	"github.com/SteelMorgan/logship/internal/retry"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// BatchIDHeader carries a per-batch uuid so a collector can drop redelivered batches
const BatchIDHeader = "X-Batch-ID"

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx response from the collector
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server responded %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the collector may accept the same request later
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPPublisher POSTs batches as JSON
type HTTPPublisher struct {
	endpoint    string
	client      *http.Client
	retryCfg    retry.Config
	compression string
	zstd        *zstd.Encoder
}

// NewHTTPPublisher creates a publisher for an http(s) endpoint
func NewHTTPPublisher(opts Options) (*HTTPPublisher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	p := &HTTPPublisher{
		endpoint:    opts.Server,
		client:      &http.Client{Timeout: timeout},
		retryCfg:    opts.Retry,
		compression: opts.Compression,
	}
	if p.compression == "none" {
		p.compression = ""
	}

	switch p.compression {
	case "", "gzip":
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		p.zstd = enc
	default:
		return nil, fmt.Errorf("unsupported compression %q", opts.Compression)
	}

	return p, nil
}

// Publish sends batch, retrying 5xx, 429 and network errors
func (p *HTTPPublisher) Publish(ctx context.Context, batch *domain.LogBatch) error {
	batchID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "publish.http", observability.BatchAttributes(batchID, batch)...)

	err := p.publish(ctx, batchID, batch)
	observability.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to publish batch %s: %w", batchID, err)
	}

	log.Debug().
		Str("batch_id", batchID).
		Str("source", batch.Source).
		Int("logs", len(batch.Logs)).
		Msg("Batch published")

	return nil
}

func (p *HTTPPublisher) publish(ctx context.Context, batchID string, batch *domain.LogBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	body, err := p.encode(payload)
	if err != nil {
		return err
	}

	return retry.Do(ctx, p.retryCfg, func() error {
		return p.send(ctx, batchID, body)
	})
}

func (p *HTTPPublisher) send(ctx context.Context, batchID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BatchIDHeader, batchID)
	if p.compression != "" {
		req.Header.Set("Content-Encoding", p.compression)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func (p *HTTPPublisher) encode(payload []byte) ([]byte, error) {
	switch p.compression {
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("failed to gzip batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to gzip batch: %w", err)
		}
		return buf.Bytes(), nil
	case "zstd":
		return p.zstd.EncodeAll(payload, nil), nil
	default:
		return payload, nil
	}
}

// Close releases idle connections and the encoder
func (p *HTTPPublisher) Close() error {
	p.client.CloseIdleConnections()
	if p.zstd != nil {
		return p.zstd.Close()
	}
	return nil
}
