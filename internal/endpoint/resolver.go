// Package endpoint keeps track of a reachable registry backend. It probes the
// backend's health path, caches the result for a short TTL and walks an ordered
// candidate list when the current base stops answering.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"helpbot/internal/domain"
	"helpbot/internal/metrics"
)

// ErrUnreachable is returned when neither the current base nor any discovery
// candidate answers its health probe.
var ErrUnreachable = errors.New("backend unreachable")

// Store persists the chosen base and probe results across runs.
type Store interface {
	LoadBase(ctx context.Context) (string, error)
	SaveBase(ctx context.Context, base string) error
	SaveHealth(ctx context.Context, h domain.HealthStatus) error
	SaveDiscovery(ctx context.Context, previous, adopted string, tried []string) error
}

type Config struct {
	// Configured is the base supplied by the user interface or config file.
	Configured   string
	DefaultPort  int
	Fallbacks    []string
	HealthPath   string
	TTL          time.Duration
	ProbeTimeout time.Duration
	ProbeRetries int
	RetryBackoff time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

func (c *Config) defaults() {
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.ProbeRetries < 1 {
		c.ProbeRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
}

// Resolver owns the process-wide current base and its HealthStatus.
type Resolver struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	flight singleflight.Group

	mu        sync.Mutex
	persisted string
	current   string
	health    domain.HealthStatus
	stale     bool
}

// New builds a resolver. Call Load to pick up a persisted base.
func New(cfg Config, store Store, logger *slog.Logger) *Resolver {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{cfg: cfg, store: store, logger: logger.With("component", "endpoint")}
	if base, err := NormalizeBase(cfg.Configured); err == nil {
		r.cfg.Configured = base
		r.current = base
	} else {
		r.cfg.Configured = ""
	}
	if r.current == "" && len(r.candidatesLocked()) > 0 {
		r.current = r.candidatesLocked()[0]
	}
	return r
}

// Load reads the persisted base and makes it current.
func (r *Resolver) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	base, err := r.store.LoadBase(ctx)
	if err != nil {
		return fmt.Errorf("load persisted base: %w", err)
	}
	if base == "" {
		return nil
	}
	norm, err := NormalizeBase(base)
	if err != nil {
		r.logger.Warn("ignoring invalid persisted base", "base", base, "error", err)
		return nil
	}
	r.mu.Lock()
	r.persisted = norm
	r.current = norm
	r.mu.Unlock()
	return nil
}

// CurrentBase returns the last confirmed or configured base.
func (r *Resolver) CurrentBase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Health returns a copy of the last probe result.
func (r *Resolver) Health() domain.HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

// Fresh reports whether the cached health still vouches for the current base.
func (r *Resolver) Fresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freshLocked()
}

func (r *Resolver) freshLocked() bool {
	if r.stale || !r.health.OK || r.health.Base != r.current {
		return false
	}
	return r.cfg.Now().Sub(r.health.CheckedAt) < r.cfg.TTL
}

// SetBase overrides and persists the base, invalidating cached health.
func (r *Resolver) SetBase(ctx context.Context, base string) error {
	norm, err := NormalizeBase(base)
	if err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.SaveBase(ctx, norm); err != nil {
			return fmt.Errorf("persist base: %w", err)
		}
	}
	r.mu.Lock()
	r.persisted = norm
	r.current = norm
	r.stale = true
	r.mu.Unlock()
	r.logger.Info("backend base set", "base", norm)
	return nil
}

// Invalidate marks cached health stale so the next EnsureHealthy re-probes.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// Candidates lists discovery targets in probe order without duplicates:
// persisted base, configured base, same host on the default port, fallbacks.
func (r *Resolver) Candidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidatesLocked()
}

func (r *Resolver) candidatesLocked() []string {
	var out []string
	seen := map[string]bool{}
	add := func(base string) {
		norm, err := NormalizeBase(base)
		if err != nil || seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, norm)
	}
	add(r.persisted)
	add(r.cfg.Configured)
	hostSource := r.cfg.Configured
	if hostSource == "" {
		hostSource = r.persisted
	}
	add(sameHostDefaultPort(hostSource, r.cfg.DefaultPort))
	for _, fb := range r.cfg.Fallbacks {
		add(fb)
	}
	return out
}

// EnsureHealthy returns a base that answered its probe within the TTL. A stale
// or forced check re-probes the current base with retries and falls back to
// discovery over the remaining candidates.
func (r *Resolver) EnsureHealthy(ctx context.Context, force bool) (string, error) {
	r.mu.Lock()
	if !force && r.freshLocked() {
		base := r.current
		r.mu.Unlock()
		return base, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flight.Do("ensure", func() (any, error) {
		return r.ensure(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) ensure(ctx context.Context) (string, error) {
	base := r.CurrentBase()
	var lastErr error
	if base != "" {
		for attempt := 0; attempt < r.cfg.ProbeRetries; attempt++ {
			if attempt > 0 {
				if err := r.cfg.Sleep(ctx, r.cfg.RetryBackoff<<uint(attempt-1)); err != nil {
					return "", err
				}
			}
			h, err := r.probe(ctx, base)
			r.record(ctx, h)
			if err == nil {
				return base, nil
			}
			lastErr = err
			r.logger.Debug("health probe failed", "base", base, "attempt", attempt+1, "error", err)
		}
	}
	adopted, ok := r.discover(ctx, base)
	if ok {
		return adopted, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidates configured")
	}
	return "", fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

// AutoDiscover probes every candidate in order and adopts the first that
// answers. When none does the previous base is kept.
func (r *Resolver) AutoDiscover(ctx context.Context) (string, bool) {
	v, _, _ := r.flight.Do("discover", func() (any, error) {
		base, ok := r.discover(context.WithoutCancel(ctx), "")
		if !ok {
			return "", nil
		}
		return base, nil
	})
	base, _ := v.(string)
	return base, base != ""
}

func (r *Resolver) discover(ctx context.Context, skip string) (string, bool) {
	previous := r.CurrentBase()
	var tried []string
	for _, cand := range r.Candidates() {
		if cand == skip {
			continue
		}
		tried = append(tried, cand)
		h, err := r.probe(ctx, cand)
		if err != nil {
			r.record(ctx, h)
			r.logger.Debug("discovery candidate failed", "base", cand, "error", err)
			continue
		}
		r.mu.Lock()
		r.current = cand
		r.persisted = cand
		r.mu.Unlock()
		r.record(ctx, h)
		if r.store != nil {
			if err := r.store.SaveBase(ctx, cand); err != nil {
				r.logger.Warn("persist discovered base", "base", cand, "error", err)
			}
		}
		r.saveDiscovery(ctx, previous, cand, tried)
		metrics.ObserveDiscovery(true)
		r.logger.Info("backend discovered", "base", cand, "previous", previous, "rows", h.Rows)
		return cand, true
	}
	negative := domain.HealthStatus{Base: previous, OK: false, CheckedAt: r.cfg.Now()}
	r.record(ctx, negative)
	r.saveDiscovery(ctx, previous, "", tried)
	metrics.ObserveDiscovery(false)
	r.logger.Warn("backend discovery failed", "previous", previous, "tried", len(tried))
	return "", false
}

func (r *Resolver) saveDiscovery(ctx context.Context, previous, adopted string, tried []string) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveDiscovery(ctx, previous, adopted, tried); err != nil {
		r.logger.Warn("persist discovery run", "error", err)
	}
}

// record overwrites the single live HealthStatus with h.
func (r *Resolver) record(ctx context.Context, h domain.HealthStatus) {
	r.mu.Lock()
	r.health = h
	if h.OK && h.Base == r.current {
		r.stale = false
	}
	r.mu.Unlock()
	if r.store != nil && h.Base != "" {
		if err := r.store.SaveHealth(ctx, h); err != nil {
			r.logger.Warn("persist health", "base", h.Base, "error", err)
		}
	}
}

// probe issues one bounded GET to the health path. Success needs a 2xx body
// that is a JSON object with an integer rows field.
func (r *Resolver) probe(ctx context.Context, base string) (h domain.HealthStatus, err error) {
	h.Base = base
	defer func() {
		h.CheckedAt = r.cfg.Now()
		metrics.ObserveProbe(err == nil)
	}()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+r.cfg.HealthPath, nil)
	if err != nil {
		return h, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return h, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return h, fmt.Errorf("health status %d", resp.StatusCode)
	}
	rows, err := parseRows(data)
	if err != nil {
		return h, err
	}
	h.Rows = rows
	h.OK = true
	return h, nil
}

func parseRows(data []byte) (int64, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("health body: %w", err)
	}
	raw, ok := body["rows"]
	if !ok {
		return 0, errors.New("health body has no rows")
	}
	rows, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("health rows not an integer: %s", raw)
	}
	return rows, nil
}

// NormalizeBase validates an absolute http(s) URL and strips trailing slashes.
func NormalizeBase(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("empty base")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid base %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base %q: host required", base)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func sameHostDefaultPort(base string, port int) string {
	if base == "" || port <= 0 {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return u.Scheme + "://" + net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
