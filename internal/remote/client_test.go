package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context, string) (string, error) {
	return s.token, s.err
}

func TestPushAttendanceSendsBearerAndDecodesAck(t *testing.T) {
	var gotAuth string
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var payload PunchPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "worker@example.com", payload.UserID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerAck{ServerTimestamp: 4242})
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL, Tokens: staticTokens{token: "tok-1"}})
	ack, err := client.PushAttendance(context.Background(), PunchPayload{
		Timestamp: 1000,
		UserID:    "worker@example.com",
		Direction: "IN",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4242, ack.ServerTimestamp)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "/v1/users/worker@example.com/attendance", gotPath)
}

func TestPullAttendanceSendsDateRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-03-11", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]PunchPayload{{Timestamp: 1000, UserID: "worker@example.com", Direction: "IN"}})
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL, Tokens: staticTokens{token: "tok-1"}})
	payloads, err := client.PullAttendance(context.Background(), "worker@example.com", "2024-03-01", "2024-03-11")
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.EqualValues(t, 1000, payloads[0].Timestamp)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		verify func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized is an auth error",
			status: http.StatusUnauthorized,
			verify: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
			},
		},
		{
			name:   "forbidden is an auth error",
			status: http.StatusForbidden,
			verify: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			verify: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
			},
		},
		{
			name:   "too many requests is transient",
			status: http.StatusTooManyRequests,
			verify: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
			},
		},
		{
			name:   "unprocessable payload is a permanent rejection",
			status: http.StatusUnprocessableEntity,
			verify: func(t *testing.T, err error) {
				var rejected *ServerRejectedError
				require.ErrorAs(t, err, &rejected)
				assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL, Tokens: staticTokens{token: "tok-1"}})
			_, err := client.PushAttendance(context.Background(), PunchPayload{UserID: "worker@example.com"})
			require.Error(t, err)
			tt.verify(t, err)
		})
	}
}

func TestUnreachableHostIsNetworkError(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://127.0.0.1:1", Tokens: staticTokens{token: "tok-1"}})
	_, err := client.PushAttendance(context.Background(), PunchPayload{UserID: "worker@example.com"})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestMissingCredentialIsAuthError(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://example.invalid", Tokens: staticTokens{err: assert.AnError}})
	_, err := client.PushAttendance(context.Background(), PunchPayload{UserID: "worker@example.com"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
