package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/loggy"
)

const defaultCheckInterval = 30 * time.Second

// Checker probes a URL periodically and feeds the result to a Monitor.
// Any HTTP response counts as online, only a failed request counts as offline.
type Checker struct {
	url        string
	interval   time.Duration
	metered    bool
	httpClient *http.Client
	monitor    *Monitor
	logger     *loggy.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewChecker creates a checker for cfg. siteURL is probed when cfg has no CheckURL.
func NewChecker(cfg config.NetworkConfig, siteURL string, monitor *Monitor, logger *loggy.Logger) *Checker {
	url := cfg.CheckURL
	if url == "" {
		url = siteURL
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	return &Checker{
		url:        url,
		interval:   interval,
		metered:    cfg.Metered,
		httpClient: &http.Client{Timeout: cfg.CheckTimeout},
		monitor:    monitor,
		logger:     logger,
	}
}

// Check probes once and updates the monitor
func (c *Checker) Check(ctx context.Context) Status {
	err := c.probe(ctx)
	if err != nil {
		c.logger.Debug("Connectivity probe failed", "url", c.url, "error", err)
	}

	c.monitor.SetStatus(err == nil, c.metered)
	return c.monitor.Status()
}

func (c *Checker) probe(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("no URL to probe")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Start probes immediately and then on every interval until Stop or ctx ends
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("Connectivity checker started", "url", c.url, "interval", c.interval)
}

// Stop ends the probe loop and waits for it
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Connectivity checker stopped")
}

func (c *Checker) loop(ctx context.Context) {
	defer c.wg.Done()

	c.Check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
