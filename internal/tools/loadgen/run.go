package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives synthetic traffic against a running instance. The generator
// only touches unauthenticated surfaces: health probes, the login redirect and
// refresh attempts with throwaway tokens, which is enough to light up every
// middleware and the rotation error paths.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	Profile       string
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
	Elapsed       time.Duration
}

type target struct {
	name   string
	method string
	path   string
	body   func(r *rand.Rand) string
}

var healthTargets = []target{
	{name: "live", method: http.MethodGet, path: "/health/live"},
	{name: "ready", method: http.MethodGet, path: "/health/ready"},
}

var authTargets = []target{
	{name: "login", method: http.MethodGet, path: "/api/v1/auth/google/login"},
	{name: "refresh", method: http.MethodPost, path: "/api/v1/auth/refresh", body: func(r *rand.Rand) string {
		return fmt.Sprintf(`{"refresh_token":"loadgen-%016x"}`, r.Uint64())
	}},
}

var sessionTargets = []target{
	{name: "sessions", method: http.MethodGet, path: "/api/v1/sessions"},
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func targetsForProfile(profile string) ([]target, error) {
	switch profile {
	case "health":
		return healthTargets, nil
	case "auth":
		return authTargets, nil
	case "sessions":
		return sessionTargets, nil
	case "mixed":
		all := make([]target, 0, len(healthTargets)+len(authTargets)+len(sessionTargets))
		all = append(all, healthTargets...)
		all = append(all, authTargets...)
		all = append(all, sessionTargets...)
		return all, nil
	default:
		return nil, fmt.Errorf("unknown load profile %q", profile)
	}
}

// Run generates traffic until the duration elapses or the context is
// cancelled. Transport errors and 5xx responses count as failures; 4xx is
// expected traffic here since the generator holds no credentials.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets, err := targetsForProfile(profile)
	if err != nil {
		return Result{}, err
	}
	if cfg.BaseURL == "" {
		return Result{}, fmt.Errorf("base URL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	res := Result{Profile: profile, StatusClasses: make(map[string]int64)}
	var mu sync.Mutex
	record := func(status int, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		if failed {
			res.Failures++
		}
		if status > 0 {
			res.StatusClasses[classifyStatusClass(status)]++
		}
	}

	start := time.Now()
	deadline, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	type job struct {
		method, path, body string
	}
	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		rng := rand.New(rand.NewSource(cfg.Seed))
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-deadline.Done():
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				t := targets[rng.Intn(len(targets))]
				j := job{method: t.method, path: t.path}
				if t.body != nil {
					j.body = t.body(rng)
				}
				select {
				case jobs <- j:
				case <-deadline.Done():
					return nil
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for j := range jobs {
				status, err := fire(gctx, client, baseURL, j.method, j.path, j.body)
				record(status, err != nil || status >= 500)
			}
			return nil
		})
	}

	err = g.Wait()
	res.Elapsed = time.Since(start)
	if err != nil && ctx.Err() == nil {
		return res, err
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, baseURL, method, path, payload string) (int, error) {
	var body io.Reader
	if payload != "" {
		body = bytes.NewBufferString(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
		// satisfy the double-submit check so writes reach the handler
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "loadgen-csrf"})
		req.Header.Set("X-CSRF-Token", "loadgen-csrf")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
