package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"forge/internal/config"
)

func TestCheckHealthReturnsTrueForOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewServiceDiscovery(config.IntegrationConfig{})
	assert.True(t, d.CheckHealth(context.Background(), "svc", srv.URL))
}

func TestCheckHealthReturnsFalseForServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewServiceDiscovery(config.IntegrationConfig{})
	assert.False(t, d.CheckHealth(context.Background(), "svc", srv.URL))
}

func TestCheckHealthReturnsFalseOnUnreachableURL(t *testing.T) {
	d := NewServiceDiscovery(config.IntegrationConfig{})
	assert.False(t, d.CheckHealth(context.Background(), "svc", "http://127.0.0.1:1"))
}

func TestWaitAllHealthyReturnsTrueOnceAllRespond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewServiceDiscovery(config.IntegrationConfig{HealthPollTimeout: "5s", HealthPollInterval: "10ms"})
	ok, statuses := d.WaitAllHealthy(context.Background(), map[string]string{"svc-a": srv.URL, "svc-b": srv.URL})
	assert.True(t, ok)
	assert.True(t, statuses["svc-a"])
	assert.True(t, statuses["svc-b"])
}

func TestWaitAllHealthyTimesOutWhenServiceNeverHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewServiceDiscovery(config.IntegrationConfig{HealthPollTimeout: "30ms", HealthPollInterval: "10ms"})
	ok, statuses := d.WaitAllHealthy(context.Background(), map[string]string{"svc-a": srv.URL})
	assert.False(t, ok)
	assert.False(t, statuses["svc-a"])
}

func TestNewServiceDiscoveryFallsBackOnBadDurations(t *testing.T) {
	d := NewServiceDiscovery(config.IntegrationConfig{HealthPollTimeout: "bad", HealthPollInterval: "bad"})
	assert.Equal(t, defaultHealthPollTimeout, d.pollTimeout)
	assert.Equal(t, defaultHealthPollInterval, d.pollInterval)
}

func TestWaitAllHealthyRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := NewServiceDiscovery(config.IntegrationConfig{HealthPollTimeout: "5s", HealthPollInterval: "10ms"})
	ok, _ := d.WaitAllHealthy(ctx, map[string]string{"svc-a": srv.URL})
	assert.False(t, ok)
}
