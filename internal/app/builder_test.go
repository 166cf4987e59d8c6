package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/caro-series/internal/config"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/pkg/seriesdto"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		HTTPAddr:            "127.0.0.1:0",
		DatabaseDriver:      "sqlite3",
		ProfileBackend:      config.ProfileBackendMemory,
		SeriesTTL:           time.Hour,
		EventsChannel:       "series:events",
		DisconnectGrace:     time.Minute,
		NextGameCountdown:   -1,
		RematchExpiry:       15 * time.Second,
		RematchWindow:       2 * time.Minute,
		RewardRetryMax:      3,
		RewardRetryInterval: time.Second,
	}
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewInMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(baseConfig())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Queue)
	assert.Nil(t, a.Archive)

	rec := post(t, a.Handler, "/api/v1/series", seriesdto.CreateSeriesRequest{Player1: "a", Player2: "b"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestNewWithRedisAndSQLite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.DatabaseURL = ":memory:"
	cfg.ProfileBackend = config.ProfileBackendSQL

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Queue)
	require.NotNil(t, a.Archive)

	rec := post(t, a.Handler, "/api/v1/series", seriesdto.CreateSeriesRequest{Player1: "a", Player2: "b"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var v seriesdto.SeriesView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, mr.Exists(series.SeriesKey(v.ID)), "series stored in redis")

	rec = post(t, a.Handler, "/api/v1/series/"+v.ID+"/abandon", seriesdto.PlayerRequest{PlayerID: "b"})
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	recd, err := a.Archive.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, recd.RewardsConfirmed)
	assert.Equal(t, "a", recd.WinnerID)
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t, []string{"app.test", "localhost:5173"}, originHosts([]string{"https://app.test", " http://localhost:5173 "}))
	assert.Equal(t, []string{"*"}, originHosts([]string{"http://x", "*"}))
	assert.Nil(t, originHosts(nil))
}
