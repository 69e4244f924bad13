// Package remote is the network capability the sync coordinator delivers
// through. Only the sync contract is modeled here; everything else about the
// remote API stays outside the engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every delivery attempt; on expiry the attempt counts
// as a transient failure.
const DefaultTimeout = 15 * time.Second

// ServerAck is the remote authority's positive acknowledgement of a pushed
// entity. ServerTimestamp is its own identity for the record, used for
// idempotent re-pull.
type ServerAck struct {
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// PunchPayload is the wire shape of one attendance punch.
type PunchPayload struct {
	Timestamp        int64  `json:"timestamp"`
	UserID           string `json:"userId"`
	Direction        string `json:"direction"`
	DateOfPunch      string `json:"dateOfPunch"`
	LatLon           string `json:"latLon,omitempty"`
	Address          string `json:"address,omitempty"`
	AttendanceStatus string `json:"attendanceStatus,omitempty"`
	CreatedOn        int64  `json:"createdOn"`
	ServerTimestamp  *int64 `json:"serverTimestamp,omitempty"`
}

// FieldPayload is the wire shape of one profile/settings field.
type FieldPayload struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Client is the capability the sync coordinator consumes. Implementations
// classify failures into NetworkError, AuthError and ServerRejectedError.
type Client interface {
	PushAttendance(ctx context.Context, payload PunchPayload) (ServerAck, error)
	PushProfileField(ctx context.Context, payload FieldPayload) (ServerAck, error)
	PullAttendance(ctx context.Context, userID, fromDate, toDate string) ([]PunchPayload, error)
}

// TokenProvider supplies a bearer credential for a user on demand.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (string, error)
}

// HTTPClientConfig configures the HTTP implementation of Client.
type HTTPClientConfig struct {
	BaseURL string
	Tokens  TokenProvider
	Timeout time.Duration
	Logger  *zap.Logger
}

// HTTPClient delivers entities over JSON/HTTP with bearer authentication.
type HTTPClient struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs the HTTP transport with a per-request timeout.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// PushAttendance delivers one punch record.
func (c *HTTPClient) PushAttendance(ctx context.Context, payload PunchPayload) (ServerAck, error) {
	var ack ServerAck
	path := fmt.Sprintf("/v1/users/%s/attendance", url.PathEscape(payload.UserID))
	if err := c.doJSON(ctx, http.MethodPost, path, payload.UserID, nil, payload, &ack); err != nil {
		return ServerAck{}, err
	}
	return ack, nil
}

// PushProfileField delivers one profile/settings field value.
func (c *HTTPClient) PushProfileField(ctx context.Context, payload FieldPayload) (ServerAck, error) {
	var ack ServerAck
	path := fmt.Sprintf("/v1/users/%s/profile/fields/%s",
		url.PathEscape(payload.UserID), url.PathEscape(payload.Name))
	if err := c.doJSON(ctx, http.MethodPut, path, payload.UserID, nil, payload, &ack); err != nil {
		return ServerAck{}, err
	}
	return ack, nil
}

// PullAttendance fetches the remote authority's punches for the user within
// the inclusive business date range.
func (c *HTTPClient) PullAttendance(ctx context.Context, userID, fromDate, toDate string) ([]PunchPayload, error) {
	query := url.Values{}
	if fromDate != "" {
		query.Set("from", fromDate)
	}
	if toDate != "" {
		query.Set("to", toDate)
	}
	path := fmt.Sprintf("/v1/users/%s/attendance", url.PathEscape(userID))

	var payloads []PunchPayload
	if err := c.doJSON(ctx, http.MethodGet, path, userID, query, nil, &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, userID string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx, userID)
	if err != nil {
		return &AuthError{Cause: err}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &ServerRejectedError{StatusCode: 0, Body: fmt.Sprintf("unencodable payload: %v", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &NetworkError{Cause: err}
	}
	defer response.Body.Close() //nolint:errcheck

	if err := classifyStatus(response); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return &NetworkError{Cause: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

func classifyStatus(response *http.Response) error {
	status := response.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &NetworkError{Cause: fmt.Errorf("status %d", status)}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return &ServerRejectedError{StatusCode: status, Body: string(snippet)}
	}
}
