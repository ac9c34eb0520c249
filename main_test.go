package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-xe/config"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/sweeper"
	"github.com/yourusername/gpay-xe/testutil"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{JWTSecret: "test-secret", JWTRefreshSecret: "test-refresh-secret"}
	db := testutil.OpenDB(t)
	store := contracts.NewStore(db)
	client := &testutil.MockXEClient{
		ApproveContractFunc: func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
			return models.ApprovalResponse{"status": "Confirmed"}, nil
		},
	}
	sw := sweeper.New(store, client, log, sweeper.Options{})
	return setupRouter(cfg, db, store, client, sw, log), cfg
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRoutesRequireAuth(t *testing.T) {
	router, cfg := setupTestRouter(t)

	userToken, err := middleware.GenerateToken(1, "user", middleware.TokenTypeAccess, cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	adminToken, err := middleware.GenerateToken(1, "admin", middleware.TokenTypeAccess, cfg.JWTSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		expectedStatus int
	}{
		{"No Token", "GET", "/api/v1/contracts", "", http.StatusUnauthorized},
		{"User Lists Contracts", "GET", "/api/v1/contracts", userToken, http.StatusOK},
		{"User Cannot Sweep", "POST", "/api/v1/admin/sweep", userToken, http.StatusForbidden},
		{"Admin Sweeps", "POST", "/api/v1/admin/sweep", adminToken, http.StatusOK},
		{"Unknown Contract Number", "GET", "/api/v1/contract-numbers/XE-404", userToken, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
