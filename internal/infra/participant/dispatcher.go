package participant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
)

const (
	component       = "participant"
	maxResponseBody = 1 << 20
)

var errCircuitOpen = errors.New("participant circuit open")

// Options configures a Dispatcher.
type Options struct {
	Config config.ParticipantsConfig
	Signer Signer
	Logger *logrus.Entry
}

// Dispatcher posts envelopes to participants. It is safe for concurrent use.
type Dispatcher struct {
	cfg     config.ParticipantsConfig
	signer  Signer
	logger  *logrus.Entry
	metrics *dispatchMetrics
	clients *clientCache
}

type attemptResult struct {
	status   int
	response *protocol.AckResponse
}

// NewDispatcher constructs a dispatcher with an empty client cache.
func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	d := &Dispatcher{
		cfg:     opts.Config,
		signer:  opts.Signer,
		logger:  logger.WithField("component", component),
		metrics: newDispatchMetrics(),
	}
	d.clients = &clientCache{build: d.buildClient}
	return d
}

func (d *Dispatcher) buildClient(baseURL string) *client {
	d.logger.WithField("participant_url", baseURL).Debug("participant: client created")
	return &client{
		baseURL: baseURL,
		http:    newHTTPClient(d.cfg.Timeouts),
		breaker: newBreaker(baseURL, d.cfg.CircuitBreaker, d.metrics, d.logger),
		limiter: newLimiter(d.cfg.RateLimit),
	}
}

func (d *Dispatcher) client(baseURL string) *client {
	return d.clients.get(protocol.NormalizeBaseURL(baseURL))
}

// BreakerState reports the circuit state for a participant base URL.
func (d *Dispatcher) BreakerState(baseURL string) string {
	return d.client(baseURL).state()
}

// Close releases idle connections held by cached clients.
func (d *Dispatcher) Close() {
	d.clients.each(func(c *client) {
		c.http.CloseIdleConnections()
	})
}

// Dispatch delivers env to p as POST {baseUrl}{action}. It never returns an
// error; every failure is folded into the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, p protocol.Participant, env protocol.Envelope) Outcome {
	start := time.Now()
	action, _ := protocol.ParseAction(env.Context.Action)
	out := Outcome{
		Participant: p.SubscriberID,
		BaseURL:     protocol.NormalizeBaseURL(p.BaseURL),
		Action:      action,
	}
	if out.Participant == "" {
		out.Participant = out.BaseURL
	}
	defer func() {
		d.metrics.recordOutcome(ctx, out)
	}()

	if out.BaseURL == "" || action == "" {
		out.Kind, out.Transport = KindTransportFailure, TransportRequest
		out.Cause = fmt.Errorf("participant %q: base url and action required", p.SubscriberID)
		out.Duration = time.Since(start)
		return out
	}
	body, err := json.Marshal(env)
	if err != nil {
		out.Kind, out.Transport = KindTransportFailure, TransportRequest
		out.Cause = fmt.Errorf("encode envelope: %w", err)
		out.Duration = time.Since(start)
		return out
	}

	c := d.client(out.BaseURL)
	target := out.BaseURL + action.String()
	log := d.logger.WithFields(logrus.Fields{
		"participant": out.Participant,
		"action":      action.String(),
		"message_id":  env.Context.MessageID,
	})

	var last *attemptError
	operation := func() (*attemptResult, error) {
		if err := c.wait(ctx); err != nil {
			last = &attemptError{kind: TransportCancelled, cause: err}
			return nil, backoff.Permanent(last)
		}
		res, err := c.execute(func() (*attemptResult, error) {
			out.Attempts++
			d.metrics.recordAttempt(ctx, action.String(), out.Participant)
			res, aerr := d.attempt(ctx, c, target, body)
			if aerr != nil {
				return nil, aerr
			}
			return res, nil
		})
		switch {
		case err == nil:
			last = nil
			return res, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", errCircuitOpen, err))
		}
		if !errors.As(err, &last) {
			last = &attemptError{kind: TransportConnection, cause: err}
		}
		if !last.kind.retryable() {
			return nil, backoff.Permanent(last)
		}
		return nil, last
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.backOff()),
		backoff.WithMaxTries(d.maxTries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).WithField("retry_in", next).Debug("participant: retrying dispatch")
		}),
	)
	out.Duration = time.Since(start)

	switch {
	case err == nil && res != nil:
		out.Status = res.status
		out.Response = res.response
		if res.response.IsAck() {
			out.Kind = KindAck
		} else {
			out.Kind = KindNack
			log.WithField("reason", out.Reason()).Info("participant: dispatch nacked")
		}
	case errors.Is(err, errCircuitOpen) && (out.Attempts == 0 || last == nil):
		out.Kind = KindCircuitOpen
		out.Cause = err
		log.Warn("participant: dispatch rejected by open circuit")
	default:
		out.Kind = KindTransportFailure
		if last != nil {
			out.Transport = last.kind
			out.Status = last.status
			out.Cause = last
		} else {
			out.Transport = TransportCancelled
			out.Cause = err
		}
		log.WithFields(logrus.Fields{
			"transport": out.Transport,
			"attempts":  out.Attempts,
		}).WithError(out.Cause).Warn("participant: dispatch failed")
	}
	return out
}

// attempt performs one HTTP exchange and classifies its result.
func (d *Dispatcher) attempt(ctx context.Context, c *client, target string, body []byte) (*attemptResult, *attemptError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{kind: TransportRequest, cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.signer != nil {
		if err := d.signer.Sign(req, body); err != nil {
			return nil, &attemptError{kind: TransportRequest, cause: fmt.Errorf("sign request: %w", err)}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &attemptError{kind: TransportServerError, status: resp.StatusCode}
	}

	var ack protocol.AckResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, &attemptError{kind: TransportBadResponse, status: resp.StatusCode, cause: err}
	}
	if err := protocol.Validate(ack); err != nil {
		return nil, &attemptError{kind: TransportBadResponse, status: resp.StatusCode, cause: err}
	}
	return &attemptResult{status: resp.StatusCode, response: &ack}, nil
}

func classify(ctx context.Context, err error) *attemptError {
	if ctx.Err() != nil {
		return &attemptError{kind: TransportCancelled, cause: err}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &attemptError{kind: TransportTimeout, cause: err}
	}
	if strings.Contains(err.Error(), "unsupported protocol scheme") {
		return &attemptError{kind: TransportRequest, cause: err}
	}
	return &attemptError{kind: TransportConnection, cause: err}
}

func (d *Dispatcher) backOff() *backoff.ExponentialBackOff {
	retry := d.cfg.Retry
	b := &backoff.ExponentialBackOff{
		InitialInterval:     retry.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          retry.Multiplier,
		MaxInterval:         retry.MaxInterval,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Reset()
	return b
}

func (d *Dispatcher) maxTries() uint {
	if d.cfg.Retry.MaxAttempts <= 0 {
		return 1
	}
	return uint(d.cfg.Retry.MaxAttempts)
}
