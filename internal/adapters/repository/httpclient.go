package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/types"
	"github.com/okian/reelrank/pkg/logger"
	"github.com/okian/reelrank/pkg/metrics"
)

const (
	defaultHTTPTimeout     = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	maxResponseBytes       = 4 << 20
)

// HTTPClient talks to the ranking server. Every call passes through a
// circuit breaker; only transport failures and 5xx answers count against it.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	newID    func() string
	logger   logger.Logger
	failures uint32
	timeout  time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithHTTPTimeout sets the per-request timeout of the default client.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if failures > 0 {
			h.failures = failures
		}
		if openFor > 0 {
			h.timeout = openFor
		}
	}
}

// WithRequestIDGenerator overrides how X-Request-ID values are minted.
func WithRequestIDGenerator(gen func() string) HTTPOption {
	return func(h *HTTPClient) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l logger.Logger) HTTPOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		newID:    uuid.NewString,
		logger:   logger.Nop(),
		failures: defaultBreakerFailures,
		timeout:  defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "ranking-server",
		Timeout: h.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= h.failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			h.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return h
}

// BreakerState reports the breaker state, e.g. "closed" or "open".
func (h *HTTPClient) BreakerState() string {
	return h.breaker.State().String()
}

func partitionPath(userID string, ct model.ContentType) string {
	return "/v1/users/" + url.PathEscape(userID) + "/rankings/" + url.PathEscape(string(ct))
}

// do sends one request through the breaker and returns the response body.
func (h *HTTPClient) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}
	body, err := h.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method != http.MethodGet {
			req.Header.Set(types.RequestIDHeader, h.newID())
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, statusError(resp.StatusCode, data)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return body, err
}

// statusError maps a failed response onto a repository sentinel.
func statusError(code int, body []byte) error {
	var e types.ErrorResponse
	msg := http.StatusText(code)
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		msg = e.Message
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	case code < http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, msg)
	}
}

// FetchRankings implements Repository.
func (h *HTTPClient) FetchRankings(ctx context.Context, userID string, ct model.ContentType) (list model.RankedList, err error) {
	defer func(start time.Time) { observe(OpFetch, start, err) }(time.Now())
	body, err := h.do(ctx, http.MethodGet, partitionPath(userID, ct), nil)
	if err != nil {
		return nil, err
	}
	var out types.RankingList
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode rankings: %w", ErrUnavailable, err)
	}
	return types.ToList(out.Items), nil
}

// PersistReorder implements Repository.
func (h *HTTPClient) PersistReorder(ctx context.Context, userID string, ct model.ContentType, from, to int) (err error) {
	defer func(start time.Time) { observe(OpReorder, start, err) }(time.Now())
	_, err = h.do(ctx, http.MethodPost, partitionPath(userID, ct)+"/reorder",
		types.ReorderRequest{FromIndex: &from, ToIndex: &to})
	return err
}

// PersistDelete implements Repository.
func (h *HTTPClient) PersistDelete(ctx context.Context, userID string, ct model.ContentType, itemID string) (err error) {
	defer func(start time.Time) { observe(OpDelete, start, err) }(time.Now())
	_, err = h.do(ctx, http.MethodDelete, partitionPath(userID, ct)+"/items/"+url.PathEscape(itemID), nil)
	return err
}

// AppendRanking ranks a new title on the server.
func (h *HTTPClient) AppendRanking(ctx context.Context, userID string, item model.RankedItem) (err error) {
	defer func(start time.Time) { observe(OpAppend, start, err) }(time.Now())
	_, err = h.do(ctx, http.MethodPost, partitionPath(userID, item.ContentType), types.AppendRequest{
		ItemID:     item.ItemID,
		Score:      item.DisplayScore,
		Title:      item.Metadata.Title,
		PosterPath: item.Metadata.PosterPath,
		Year:       item.Metadata.Year,
	})
	return err
}
