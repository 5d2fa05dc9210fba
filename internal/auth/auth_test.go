package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-booking/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer abc", "abc", true},
		{"missing", "", "", false},
		{"wrong scheme", "Basic abc", "", false},
		{"no token", "Bearer ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractTokenFromRequest(r)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHMACVerifier(t *testing.T) {
	v, err := NewHMACVerifier("local-secret")
	require.NoError(t, err)

	token, err := v.Issue("buyer-1", time.Minute)
	require.NoError(t, err)

	sub, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", sub)

	expired, err := v.Issue("buyer-1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.Error(t, err)

	other, _ := NewHMACVerifier("other-secret")
	forged, err := other.Issue("buyer-1", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), forged)
	assert.Error(t, err)

	_, err = NewHMACVerifier("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, _ := NewHMACVerifier("local-secret")
	var seen string
	h := Middleware(v, logger.NewConsoleLogger(io.Discard))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := v.Issue("buyer-7", time.Minute)
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "buyer-7", seen)
}
