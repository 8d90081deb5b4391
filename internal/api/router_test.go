package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iac-studio/dbstack/internal/api/handlers"
	"github.com/iac-studio/dbstack/internal/stack"
	"github.com/iac-studio/dbstack/pkg/config"
	"github.com/iac-studio/dbstack/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

var secret = []byte("router-test-secret-0123")

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.StackConfig{
		StackName:               "dev-database",
		MaxAZs:                  stack.DefaultMaxAZs,
		NatGateways:             -1,
		ComputeAllowAllOutbound: true,
		StopSchedule:            stack.DefaultStopSchedule,
		StartSchedule:           stack.DefaultStartSchedule,
	}
	return NewRouter(ctx, Dependencies{
		HMACSecret:         secret,
		CORSOrigins:        []string{"*"},
		RateLimitRPS:       100,
		RateLimitBurst:     100,
		StackHandler:       handlers.NewStackHandler(cfg),
		DeploymentsHandler: handlers.NewDeploymentsHandler(nil),
	})
}

func token(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestRouter(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		auth   bool
		status int
	}{
		{name: "liveness", path: "/healthz", status: http.StatusOK},
		{name: "readiness without checks", path: "/readyz", status: http.StatusOK},
		{name: "metrics", path: "/metrics", status: http.StatusOK},
		{name: "api requires token", path: "/api/v1/stack/template", status: http.StatusUnauthorized},
		{name: "template", path: "/api/v1/stack/template", auth: true, status: http.StatusOK},
		{name: "schedules", path: "/api/v1/stack/schedules?count=2", auth: true, status: http.StatusOK},
		{name: "unknown route", path: "/api/v1/projects", auth: true, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+token(t))
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}
