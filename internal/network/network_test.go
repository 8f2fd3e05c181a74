package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
)

func TestMonitorNotifiesChanges(t *testing.T) {
	monitor := NewMonitor(Status{Online: false}, loggy.NewNoopLogger())

	var changes []Change
	unsubscribe := monitor.OnChange(func(c Change) { changes = append(changes, c) })

	reconnects := 0
	stopReconnect := monitor.OnReconnect(func() { reconnects++ })

	monitor.SetStatus(false, false)
	assert.Empty(t, changes, "same status is not a change")

	monitor.SetStatus(true, true)
	assert.True(t, monitor.IsOnline())
	assert.True(t, monitor.IsMetered())

	monitor.SetStatus(true, false)
	monitor.SetStatus(false, false)
	monitor.SetStatus(true, false)

	assert.Len(t, changes, 4)
	assert.Equal(t, 2, reconnects)

	unsubscribe()
	stopReconnect()
	monitor.SetStatus(false, false)
	monitor.SetStatus(true, false)
	assert.Len(t, changes, 4)
	assert.Equal(t, 2, reconnects)
}

func TestCheckerUpdatesMonitor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	monitor := NewMonitor(Status{}, loggy.NewNoopLogger())
	checker := NewChecker(config.NetworkConfig{Metered: true, CheckTimeout: time.Second}, server.URL, monitor, loggy.NewNoopLogger())

	status := checker.Check(context.Background())
	assert.Equal(t, Status{Online: true, Metered: true}, status, "any response means the site is reachable")

	server.Close()
	status = checker.Check(context.Background())
	assert.False(t, status.Online)
}

func TestCheckerStartStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	monitor := NewMonitor(Status{}, loggy.NewNoopLogger())
	checker := NewChecker(config.NetworkConfig{CheckURL: server.URL, CheckInterval: time.Hour}, "", monitor, loggy.NewNoopLogger())

	checker.Start(context.Background())
	checker.Start(context.Background())
	assert.Eventually(t, monitor.IsOnline, time.Second, 5*time.Millisecond)

	checker.Stop()
	checker.Stop()
}

func TestCheckerWithoutURLIsOffline(t *testing.T) {
	monitor := NewMonitor(Status{Online: true}, loggy.NewNoopLogger())
	checker := NewChecker(config.NetworkConfig{}, "", monitor, loggy.NewNoopLogger())

	assert.False(t, checker.Check(context.Background()).Online)
}
