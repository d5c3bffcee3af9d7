package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neurovision/internal/auth"
	"neurovision/internal/config"
)

func protected(jwt *auth.JWTManager) (http.Handler, *int64) {
	var seen int64
	h := AuthMiddleware(jwt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := GetUserFromContext(r.Context()); claims != nil {
			seen = claims.UserID()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestAuthMiddleware(t *testing.T) {
	jwt := auth.NewJWTManager(&config.Config{JWTSecret: "k", JWTAccessExpiry: time.Minute, JWTRefreshExpiry: time.Hour})
	access, _, err := jwt.GenerateToken(5, "a@example.com", auth.TokenAccess)
	require.NoError(t, err)
	refresh, _, err := jwt.GenerateToken(5, "a@example.com", auth.TokenRefresh)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		query   string
		upgrade bool
		want    int
	}{
		{"valid bearer", "Bearer " + access, "", false, http.StatusNoContent},
		{"missing header", "", "", false, http.StatusUnauthorized},
		{"wrong scheme", "Basic " + access, "", false, http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, "", false, http.StatusUnauthorized},
		{"query token on upgrade", "", access, true, http.StatusNoContent},
		{"query token without upgrade", "", access, false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := protected(jwt)
			req := httptest.NewRequest(http.MethodGet, "/api/neural/history?access_token="+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.Equal(t, int64(5), *seen)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	h := CORSMiddleware([]string{"http://app.test"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/neural/analyze", nil)
	req.Header.Set("Origin", "http://app.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
