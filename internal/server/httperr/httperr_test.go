package httperr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		envelope   *errors.ErrorEnvelope
		statusCode int
		wantCode   string
		wantMsg    string
		wantReqID  string
	}{
		{
			name:       "basic error",
			envelope:   errors.NewErrorEnvelope("TEST_ERROR", "test message"),
			statusCode: http.StatusBadRequest,
			wantCode:   "TEST_ERROR",
			wantMsg:    "test message",
		},
		{
			name:       "internal error",
			envelope:   errors.NewErrorEnvelope(CodeInternal, "something went wrong"),
			statusCode: http.StatusInternalServerError,
			wantCode:   CodeInternal,
			wantMsg:    "something went wrong",
		},
		{
			name:       "correlation id becomes request id",
			envelope:   errors.NewErrorEnvelope(CodeNotFound, "resource not found").WithCorrelationID("corr-123"),
			statusCode: http.StatusNotFound,
			wantCode:   CodeNotFound,
			wantMsg:    "resource not found",
			wantReqID:  "corr-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteEnvelope(rec, tt.envelope, tt.statusCode)

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
			assert.Equal(t, tt.wantReqID, resp.Error.RequestID)
		})
	}
}

func TestEnvelope_Details(t *testing.T) {
	tests := []struct {
		name        string
		details     map[string]any
		wantContext bool
	}{
		{"flat details become context", map[string]any{"field": "slotKey", "value": "bad"}, true},
		{"nested details kept verbatim", map[string]any{"checks": map[string]any{"store": "unhealthy"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope(httptest.NewRequest(http.MethodGet, "/x", nil), CodeBadRequest, "invalid input", tt.details)
			if tt.wantContext {
				assert.Equal(t, tt.details, env.Context)
				assert.Nil(t, env.Details)
			} else {
				assert.Equal(t, tt.details, env.Details)
			}
			assert.Equal(t, "/x", env.Path)

			rec := httptest.NewRecorder()
			WriteEnvelope(rec, env, http.StatusBadRequest)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Error.Details, len(tt.details))
		})
	}
}

func TestWrite_EchoesRequestID(t *testing.T) {
	h := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "nothing here")
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.Error.RequestID)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestInternal_IsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	Internal(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", resp.Error.Message)
}
