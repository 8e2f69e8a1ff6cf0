package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4 << 10

// Client talks to a remote authority over HTTP/JSON.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithClientLogger sets the logger for request diagnostics.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the authority at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write posts one mutation. The mutation id travels as the Idempotency-Key
// so a retried push is applied once.
func (c *Client) Write(ctx context.Context, token string, req WriteRequest) (record.Ack, error) {
	body, err := encodeWrite(req)
	if err != nil {
		return record.Ack{}, syncerr.Validation("encode write", err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return record.Ack{}, syncerr.Validation("encode write", err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s/mutations", c.baseURL, url.PathEscape(string(req.EntityType)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return record.Ack{}, fmt.Errorf("build write request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.MutationID)
	setAuth(httpReq, token)

	var ack ackBody
	if err := c.do(httpReq, "write", &ack); err != nil {
		return record.Ack{}, withTarget(err, req.EntityType, req.MutationID)
	}
	return record.Ack{ServerID: ack.ServerID, UpdatedAt: record.FromMillis(ack.UpdatedAt)}, nil
}

// Changes fetches one page of changes after req.Since.
func (c *Client) Changes(ctx context.Context, token string, req ChangesRequest) (ChangeSet, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(record.Millis(req.Since), 10))
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	endpoint := fmt.Sprintf("%s/v1/%s/changes?%s", c.baseURL, url.PathEscape(string(req.EntityType)), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("build changes request: %w", err)
	}
	setAuth(httpReq, token)

	var body changeSetBody
	if err := c.do(httpReq, "changes", &body); err != nil {
		return ChangeSet{}, withTarget(err, req.EntityType, "")
	}
	cs, err := decodeChangeSet(req.EntityType, body)
	if err != nil {
		return ChangeSet{}, syncerr.Transient("decode changes", err)
	}
	return cs, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return syncerr.Transient(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode != http.StatusOK {
		return classify(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return syncerr.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classify maps a non-200 response to the error taxonomy.
func classify(op string, resp *http.Response) error {
	msg := resp.Status
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = fmt.Sprintf("%s: %s", resp.Status, eb.Error)
	}
	cause := errors.New(msg)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return syncerr.Auth(op, cause)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return syncerr.Transient(op, cause)
	case resp.StatusCode >= 400:
		// 400, 409, 422 and any other client error: the request itself is
		// wrong and repeating it cannot help.
		return syncerr.Validation(op, cause)
	default:
		return syncerr.Transient(op, cause)
	}
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func withTarget(err error, et record.EntityType, id string) error {
	var se *syncerr.Error
	if errors.As(err, &se) {
		se.EntityType = et
		se.ID = id
		return se
	}
	return err
}
