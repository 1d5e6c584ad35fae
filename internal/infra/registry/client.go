// Package registry queries the network subscriber directory.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/beckn-gateway/errs"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
)

const (
	component       = "registry"
	lookupPath      = "/lookup"
	maxResponseBody = 4 << 20
)

// Options configures a directory Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Client performs subscriber lookups. It never caches results.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *logrus.Entry
	duration metric.Float64Histogram
}

type lookupRequest struct {
	SubscriberID string `json:"subscriber_id,omitempty"`
	Type         string `json:"type,omitempty"`
	Domain       string `json:"domain,omitempty"`
	City         string `json:"city,omitempty"`
	Country      string `json:"country,omitempty"`
}

type subscriberDTO struct {
	SubscriberID     string     `json:"subscriber_id"`
	SubscriberURL    string     `json:"subscriber_url"`
	Type             string     `json:"type"`
	Domain           string     `json:"domain"`
	City             string     `json:"city"`
	Country          string     `json:"country"`
	SigningPublicKey string     `json:"signing_public_key"`
	EncrPublicKey    string     `json:"encr_public_key"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	Status           string     `json:"status"`
}

// NewClient builds a directory client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("registry base url required"))
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	duration, _ := otel.Meter("registry").Float64Histogram("registry.lookup.duration",
		metric.WithDescription("Subscriber directory lookup latency"),
		metric.WithUnit("ms"))
	return &Client{
		baseURL:  base,
		http:     httpClient,
		logger:   logger.WithField("component", component),
		duration: duration,
	}, nil
}

// Lookup returns the subscribed participants matching criteria.
func (c *Client) Lookup(ctx context.Context, criteria protocol.Criteria) ([]protocol.Participant, error) {
	start := time.Now()
	participants, err := c.lookup(ctx, criteria)
	if c.duration != nil {
		result := telemetry.ResultSuccess
		if err != nil {
			result = string(errs.CodeOf(err))
		}
		c.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(telemetry.OperationResultAttributes(telemetry.Environment(), "lookup", result)...))
	}
	return participants, err
}

func (c *Client) lookup(ctx context.Context, criteria protocol.Criteria) ([]protocol.Participant, error) {
	body, err := json.Marshal(lookupRequest{
		SubscriberID: strings.TrimSpace(criteria.SubscriberID),
		Type:         string(criteria.Type),
		Domain:       criteria.Domain,
		City:         criteria.City,
		Country:      criteria.Country,
	})
	if err != nil {
		return nil, c.unavailable("encode lookup request", err, criteria)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(body))
	if err != nil {
		return nil, c.unavailable("build lookup request", err, criteria)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.unavailable("lookup request failed", err, criteria)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, c.unavailable("read lookup response", err, criteria)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.unavailable(fmt.Sprintf("lookup returned status %d", resp.StatusCode), nil, criteria)
	}

	var subscribers []subscriberDTO
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &subscribers); err != nil {
			return nil, c.unavailable("decode lookup response", err, criteria)
		}
	}

	participants := make([]protocol.Participant, 0, len(subscribers))
	for _, s := range subscribers {
		status := protocol.ParticipantStatus(strings.ToUpper(strings.TrimSpace(s.Status)))
		if status != "" && status != protocol.StatusSubscribed {
			continue
		}
		baseURL := protocol.NormalizeBaseURL(s.SubscriberURL)
		if baseURL == "" {
			c.logger.WithField("subscriber_id", s.SubscriberID).Warn("registry: subscriber without url skipped")
			continue
		}
		participants = append(participants, protocol.Participant{
			SubscriberID: s.SubscriberID,
			BaseURL:      baseURL,
			Type:         protocol.ParticipantType(s.Type),
			Domain:       s.Domain,
			City:         s.City,
			Country:      s.Country,
			Status:       protocol.StatusSubscribed,
			SigningKey:   s.SigningPublicKey,
		})
	}
	if len(participants) == 0 {
		return nil, errs.New(component, errs.CodeNoParticipant,
			errs.WithMessage("no subscribed participant matched the lookup"),
			errs.WithMetadata(criteriaFields(criteria)))
	}
	return participants, nil
}

func (c *Client) unavailable(msg string, cause error, criteria protocol.Criteria) error {
	entry := c.logger.WithFields(logrus.Fields{
		"type":          criteria.Type,
		"subscriber_id": criteria.SubscriberID,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("registry: " + msg)
	return errs.New(component, errs.CodeRegistry,
		errs.WithMessage(msg),
		errs.WithMetadata(criteriaFields(criteria)),
		errs.WithCause(cause))
}

func criteriaFields(criteria protocol.Criteria) map[string]string {
	return map[string]string{
		"subscriber_id": criteria.SubscriberID,
		"type":          string(criteria.Type),
		"domain":        criteria.Domain,
		"city":          criteria.City,
		"country":       criteria.Country,
	}
}
