package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/optisync/internal/model"
)

// OpIDHeader carries the client operation id on writes.
const OpIDHeader = "X-Op-Id"

// HTTPClient talks to the JSON REST API:
//
//	GET    /v1/{collection}?field=value
//	PATCH  /v1/{collection}/{id}
//	POST   /v1/{collection}
//	DELETE /v1/{collection}/{id}
//
// Reads are retried on transport errors, 429 and 5xx with exponential
// backoff honoring Retry-After. Writes are never retried: retry policy for
// mutations belongs to the caller.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ Remote = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. A nil httpClient uses one
// with a 15s timeout.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type entityList struct {
	Entities []model.Entity `json:"entities"`
}

type writeRequest struct {
	Fields model.Fields `json:"fields"`
	OpID   string       `json:"op_id"`
}

// FetchCollection lists the entities matching f.
func (c *HTTPClient) FetchCollection(ctx context.Context, f Filter) ([]model.Entity, error) {
	q := url.Values{}
	keys := make([]string, 0, len(f.Where))
	for k := range f.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, f.Where[k])
	}
	path := "/v1/" + url.PathEscape(f.Collection)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out entityList
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.Collection, err)
	}
	return out.Entities, nil
}

// UpdateEntity applies diff to the entity and returns the server's copy.
func (c *HTTPClient) UpdateEntity(ctx context.Context, collection, id string, diff model.Fields, opID string) (model.Entity, error) {
	var out model.Entity
	path := "/v1/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodPatch, path, opID, writeRequest{Fields: diff, OpID: opID}, &out); err != nil {
		return model.Entity{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return out, nil
}

// CreateEntity creates an entity and returns it with its server-assigned id.
func (c *HTTPClient) CreateEntity(ctx context.Context, collection string, fields model.Fields, opID string) (model.Entity, error) {
	var out model.Entity
	path := "/v1/" + url.PathEscape(collection)
	if err := c.doJSON(ctx, http.MethodPost, path, opID, writeRequest{Fields: fields, OpID: opID}, &out); err != nil {
		return model.Entity{}, fmt.Errorf("create in %s: %w", collection, err)
	}
	return out, nil
}

// DeleteEntity deletes an entity.
func (c *HTTPClient) DeleteEntity(ctx context.Context, collection, id, opID string) error {
	path := "/v1/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, opID, nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath, opID string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	retryable := method == http.MethodGet

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if opID != "" {
			req.Header.Set(OpIDHeader, opID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retryable && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		if retryable && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload errorBody
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
