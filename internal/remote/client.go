package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vidlens/trendsync/internal/config"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"go.uber.org/zap"
)

// Client talks to the authoritative remote store. Every call carries the
// configured timeout; a timeout is reported as a connectivity failure so the
// caller's outbox/dead-letter path handles it like any other network error.
type Client struct {
	baseURL   string
	apiKey    string
	probePath string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.RemoteTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.RemoteBaseURL,
		apiKey:    cfg.RemoteAPIKey,
		probePath: cfg.RemoteProbePath,
		http:      &http.Client{Timeout: timeout},
		log:       log.Named("remote.client"),
	}
}

// FetchRecords pulls the full record snapshot. Transient failures are retried
// with capped exponential backoff before giving up.
func (c *Client) FetchRecords(ctx context.Context) ([]*recorddomain.TrendRecord, error) {
	return fetchSnapshot[*recorddomain.TrendRecord](ctx, c, "/api/v1/records/snapshot")
}

// FetchDayAggregates pulls the per-day rollup snapshot.
func (c *Client) FetchDayAggregates(ctx context.Context) ([]*recorddomain.DayAggregate, error) {
	return fetchSnapshot[*recorddomain.DayAggregate](ctx, c, "/api/v1/days/snapshot")
}

func fetchSnapshot[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	operation := func() error {
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		env, err := decodeEnvelope[T](body)
		if err != nil {
			// malformed body is not retryable
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrValidation, err))
		}
		if !env.Success {
			return fmt.Errorf("%w: %s", ErrTransient, env.Error)
		}
		out = env.Data
		return nil
	}

	policy := backoff.WithContext(snapshotBackoff(), ctx)
	if err := backoff.Retry(func() error {
		err := operation()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func snapshotBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 45 * time.Second
	return policy
}

// UploadBatch pushes one batch of records. The remote applies them with
// upsert semantics, so re-sending after a timeout cannot duplicate.
func (c *Client) UploadBatch(ctx context.Context, records []*recorddomain.TrendRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/records/batch", payload)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope[json.RawMessage](body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrTransient, env.Error)
	}
	return nil
}

// PutRecord writes one record and returns the server's authoritative copy.
func (c *Client) PutRecord(ctx context.Context, rec *recorddomain.TrendRecord) (*recorddomain.TrendRecord, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	path := fmt.Sprintf("/api/v1/records/%s/%s", rec.VideoID, rec.DayKey)
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope[*recorddomain.TrendRecord](body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrTransient, env.Error)
	}
	if len(env.Data) > 0 {
		return env.Data[0], nil
	}
	return rec, nil
}

// DeleteRecord removes one record identity from the remote store. A 404 means
// the record is already gone, which is the state the delete asked for.
func (c *Client) DeleteRecord(ctx context.Context, videoID, dayKey string) error {
	path := fmt.Sprintf("/api/v1/records/%s/%s", videoID, dayKey)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// Probe checks remote reachability with a short deadline.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := c.do(ctx, http.MethodGet, c.probePath, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode, Message: snippet(body)}
		return nil, fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	return body, nil
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
