package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/daystats/internal/auth"
)

var authConfig = auth.Config{Secret: "s3cret", Issuer: "daystats.test"}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iss": authConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(authConfig.Secret))
	require.NoError(t, err)
	return signed
}

func newTestRouter(rateLimit int) http.Handler {
	return NewRouter(RouterConfig{
		Auth:        auth.NewMiddleware(authConfig, auth.SkipPublic),
		CORSOrigins: []string{"http://localhost:5173"},
		RateLimit:   rateLimit,
		Logger:      zerolog.Nop(),
	}, func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Get("/v1/days", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})
}

func TestRouterAuthenticatesApplicationRoutes(t *testing.T) {
	router := newTestRouter(0)

	for _, path := range []string{"/healthz", "/metrics"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/days", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/days", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterRateLimitsPerSubject(t *testing.T) {
	router := newTestRouter(2)

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/days", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusTooManyRequests, send("a"))
	require.Equal(t, http.StatusOK, send("b"))
}

func TestRouterAnswersCORSPreflight(t *testing.T) {
	router := newTestRouter(0)

	req := httptest.NewRequest(http.MethodOptions, "/v1/days", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}
