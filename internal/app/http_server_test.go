package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/stockcart/internal/health"
	"github.com/vladislavdragonenkov/stockcart/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", initMemoryStorage(log.WithField("test", "http")).storageChecker)
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http"), healthHandler)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		body, status := waitForGet(t, fmt.Sprintf("http://localhost:%d%s", port, path))
		if status != http.StatusOK {
			t.Errorf("%s returned status %d, expected 200", path, status)
		}
		if len(body) == 0 {
			t.Errorf("%s returned empty body", path)
		}
		if path == "/livez" && body != "ok" {
			t.Errorf("expected 'ok' from /livez, got %q", body)
		}
	}
}

func TestStartMetricsServer_ReadinessWithDegradedRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, closeCache := initCartCache(context.Background(), Config{RedisAddr: mr.Addr(), CartCacheTTL: time.Minute},
		prometheus.NewRegistry(), log.WithField("test", "redis-health"))
	defer closeCache()
	mr.Close()

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("redis", healthcheck.NewOptionalPingChecker("redis", time.Second, redisCache))
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "redis-health"), healthHandler)

	_, status := waitForGet(t, fmt.Sprintf("http://localhost:%d/readyz", port))
	if status != http.StatusOK {
		t.Fatalf("a degraded cart cache must not fail readiness, got %d", status)
	}

	body, _ := waitForGet(t, fmt.Sprintf("http://localhost:%d/healthz", port))
	var report struct {
		Checks map[string]healthcheck.Check `json:"checks"`
	}
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if got := report.Checks["redis"].Status; got != healthcheck.StatusDegraded {
		t.Fatalf("expected redis check to be degraded, got %q", got)
	}
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http-shutdown"),
		healthcheck.NewHandler(version.GetVersion()))

	url := fmt.Sprintf("http://localhost:%d/livez", port)
	if _, status := waitForGet(t, url); status != http.StatusOK {
		t.Fatalf("server should be running, got %d", status)
	}

	cancel()
	time.Sleep(200 * time.Millisecond)

	if _, err := http.Get(url); err == nil { //nolint:bodyclose,noctx // server must be gone
		t.Error("server should be stopped after context cancellation")
	}
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestInitCartCache_Disabled(t *testing.T) {
	redisCache, closeCache := initCartCache(context.Background(), Config{RedisAddr: "  "},
		prometheus.NewRegistry(), log.WithField("test", "cache-disabled"))
	defer closeCache()

	if redisCache != nil {
		t.Fatal("expected nil cache without redis address")
	}
}

func waitForGet(t *testing.T, url string) (string, int) {
	t.Helper()

	var lastErr error
	for range 20 {
		resp, err := http.Get(url) //nolint:noctx // test helper
		if err != nil {
			lastErr = err
			time.Sleep(25 * time.Millisecond)
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return string(body), resp.StatusCode
	}
	t.Fatalf("GET %s failed: %v", url, lastErr)
	return "", 0
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
