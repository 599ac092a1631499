package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ecothreads-notify/internal/application/mail"
	"github.com/ecothreads-notify/internal/config"
	"github.com/ecothreads-notify/internal/pkg/metrics"
	"github.com/stretchr/testify/assert"
)

func TestRouter_PublicRoutes(t *testing.T) {
	h := NewRouter(&config.Config{AllowedOrigins: []string{"*"}}, &Deps{
		Mail:    mail.NewService(nil),
		Metrics: metrics.New(),
	})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/v1/health-check/ping", http.StatusOK},
		{http.MethodGet, "/v1/health-check/other", http.StatusBadRequest},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func postVerification(h http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/v1/emails/verification", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRouter_EmailLimit_IgnoresForwardedForByDefault(t *testing.T) {
	h := NewRouter(&config.Config{AllowedOrigins: []string{"*"}}, &Deps{Mail: mail.NewService(nil)})

	limited := 0
	for i := 0; i < 20; i++ {
		if postVerification(h, "203.0.113.9:5000", fmt.Sprintf("10.0.0.%d", i)) == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Positive(t, limited)
}

func TestRouter_EmailLimit_TrustsProxyWhenConfigured(t *testing.T) {
	h := NewRouter(&config.Config{AllowedOrigins: []string{"*"}, TrustProxyHeaders: true}, &Deps{Mail: mail.NewService(nil)})

	for i := 0; i < 20; i++ {
		code := postVerification(h, "203.0.113.9:5000", fmt.Sprintf("10.0.0.%d", i))
		assert.NotEqual(t, http.StatusTooManyRequests, code)
	}
}
