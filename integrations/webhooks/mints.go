package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"magink/core"
	"magink/native/magink"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventWizardMinted is delivered for every confirmed Wizard mint.
	EventWizardMinted EventType = "magink.wizard.minted"
	// EventEraStarted is delivered when an account (re)starts its era.
	EventEraStarted EventType = "magink.era.started"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// MintPayload is the webhook body for mint events.
type MintPayload struct {
	Type       EventType `json:"type"`
	Account    string    `json:"account"`
	TokenID    string    `json:"tokenId"`
	Mode       string    `json:"mode"`
	Height     uint64    `json:"height"`
	MintedAt   time.Time `json:"mintedAt"`
	DeliveryID string    `json:"deliveryId"`
}

// EraPayload is the webhook body for era starts.
type EraPayload struct {
	Type       EventType `json:"type"`
	Account    string    `json:"account"`
	ClaimEra   uint8     `json:"claimEra"`
	StartBlock uint64    `json:"startBlock"`
	DeliveryID string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the logger used for failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 64),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.logger = dispatcher.logger.With("component", "webhooks")
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueMint sends a mint event asynchronously.
func (d *Dispatcher) EnqueueMint(payload MintPayload) error {
	payload.Type = EventWizardMinted
	if payload.MintedAt.IsZero() {
		payload.MintedAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("mint-%s-%s", payload.Account, payload.TokenID)
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueEra sends an era start asynchronously.
func (d *Dispatcher) EnqueueEra(payload EraPayload) error {
	payload.Type = EventEraStarted
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("era-%s-%d", payload.Account, payload.StartBlock)
	}
	return d.enqueue(payload.Type, payload)
}

// Forward follows committed events and enqueues the ones with a webhook
// topic until ctx ends.
func (d *Dispatcher) Forward(ctx context.Context, source core.Subscriber) error {
	err := core.Follow(ctx, source, "", d.forwardOne, func(from, to uint64) {
		d.logger.Warn("events expired before delivery", "from", from, "to", to)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("webhook: follow events: %w", err)
	}
	return err
}

func (d *Dispatcher) forwardOne(update core.EventUpdate) {
	attrs := update.Event.Attributes
	var err error
	switch update.Event.Type {
	case magink.EventTypeWizardMinted:
		err = d.EnqueueMint(MintPayload{
			Account: attrs["account"],
			TokenID: attrs["tokenId"],
			Mode:    attrs["mode"],
			Height:  update.Height,
		})
	case magink.EventTypeEraStarted:
		var payload EraPayload
		payload, err = eraPayload(attrs)
		if err == nil {
			err = d.EnqueueEra(payload)
		}
	default:
		return
	}
	if err != nil {
		d.logger.Warn("enqueue webhook", "type", update.Event.Type, "cursor", update.Cursor, "error", err)
	}
}

func eraPayload(attrs map[string]string) (EraPayload, error) {
	era, err := strconv.ParseUint(attrs["claimEra"], 10, 8)
	if err != nil {
		return EraPayload{}, fmt.Errorf("webhook: invalid claimEra %q: %w", attrs["claimEra"], err)
	}
	start, err := strconv.ParseUint(attrs["startBlock"], 10, 64)
	if err != nil {
		return EraPayload{}, fmt.Errorf("webhook: invalid startBlock %q: %w", attrs["startBlock"], err)
	}
	return EraPayload{Account: attrs["account"], ClaimEra: uint8(era), StartBlock: start}, nil
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery dropped", "type", string(job.eventType), "attempts", attempt, "error", err)
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Magink-Event", string(job.eventType))
	req.Header.Set("X-Magink-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced for body with secret.
func VerifySignature(secret, body []byte, header string) bool {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
