package participant

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coachpo/beckn-gateway/internal/infra/config"
)

// Signer attaches an authorization header to an outbound request. The body is
// the exact payload that will be sent.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request, body []byte) error

// Sign implements Signer.
func (f SignerFunc) Sign(req *http.Request, body []byte) error { return f(req, body) }

// client bundles the per-participant HTTP client, breaker and limiter.
type client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.TwoStepCircuitBreaker
	limiter *rate.Limiter
}

type clientEntry struct {
	once   sync.Once
	client *client
}

// clientCache builds one client per normalized base URL. Construction is
// serialized per key only.
type clientCache struct {
	entries sync.Map // string -> *clientEntry
	build   func(baseURL string) *client
}

func (c *clientCache) get(baseURL string) *client {
	value, _ := c.entries.LoadOrStore(baseURL, new(clientEntry))
	entry := value.(*clientEntry)
	entry.once.Do(func() {
		entry.client = c.build(baseURL)
	})
	return entry.client
}

func (c *clientCache) each(fn func(*client)) {
	c.entries.Range(func(_, value any) bool {
		if entry := value.(*clientEntry); entry.client != nil {
			fn(entry.client)
		}
		return true
	})
}

func newHTTPClient(timeouts config.TimeoutConfig) *http.Client {
	dialer := &net.Dialer{Timeout: timeouts.Connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeouts.Connect,
		ResponseHeaderTimeout: timeouts.Read,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeouts.Connect + timeouts.Write + timeouts.Read,
	}
}

func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func newBreaker(baseURL string, cfg config.CircuitBreakerConfig, metrics *dispatchMetrics, logger *logrus.Entry) *gobreaker.TwoStepCircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        baseURL,
		MaxRequests: 1,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"participant_url": name,
				"from":            from.String(),
				"to":              to.String(),
			}).Warn("participant: circuit state changed")
			metrics.recordBreaker(name, to.String())
		},
	})
}

func isCancellation(err error) bool {
	ae, ok := err.(*attemptError)
	return ok && ae.kind == TransportCancelled
}

// execute runs call through the breaker when one is configured. A caller
// cancellation leaves closed-state counts untouched and fails a half-open
// trial; it is never reported as a success.
func (c *client) execute(call func() (*attemptResult, error)) (*attemptResult, error) {
	if c.breaker == nil {
		return call()
	}
	trial := c.breaker.State() != gobreaker.StateClosed
	done, err := c.breaker.Allow()
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			done(false)
			panic(r)
		}
	}()

	res, err := call()
	switch {
	case err == nil:
		done(true)
	case isCancellation(err) && !trial:
		// no verdict
	default:
		done(false)
	}
	return res, err
}

func (c *client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *client) state() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
