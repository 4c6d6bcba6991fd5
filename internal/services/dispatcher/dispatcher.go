// Package dispatcher consumes shipment events from Kafka and performs the
// side effects: live broadcast, customer notification and aggregator registration.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/integrations/aggregator"
	"github.com/BearBump/TrackHub/internal/integrations/notifier"
	"github.com/pkg/errors"
)

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// Deduper guards one-shot side effects by a Redis key.
type Deduper interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type Sender interface {
	Send(ctx context.Context, n notifier.Notification) error
}

// Parker receives events whose side effects still fail after all attempts.
type Parker interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type Dispatcher struct {
	broadcaster Broadcaster
	dedup       Deduper
	sender      Sender
	aggregator  aggregator.Client

	parker    Parker
	dlqTopic  string
	attempts  int
	stepDelay time.Duration

	newConsumer func() Consumer
	notifiedTTL time.Duration
	retryDelay  time.Duration

	totalHandled    atomic.Int64
	totalBroadcast  atomic.Int64
	totalNotified   atomic.Int64
	totalRegistered atomic.Int64
	totalErrors     atomic.Int64
	totalParked     atomic.Int64
	lastErrorMu     sync.Mutex
	lastError       string
}

func New(b Broadcaster, d Deduper, s Sender, agg aggregator.Client, newConsumer func() Consumer) *Dispatcher {
	return &Dispatcher{
		broadcaster: b,
		dedup:       d,
		sender:      s,
		aggregator:  agg,
		newConsumer: newConsumer,
		attempts:    3,
		stepDelay:   500 * time.Millisecond,
		notifiedTTL: 7 * 24 * time.Hour,
		retryDelay:  2 * time.Second,
	}
}

// WithDeadLetter parks events with failed side effects on topic instead of
// retrying them forever.
func (d *Dispatcher) WithDeadLetter(p Parker, topic string) *Dispatcher {
	d.parker = p
	d.dlqTopic = topic
	return d
}

// WithAttempts bounds how often each side effect is tried per delivery.
func (d *Dispatcher) WithAttempts(attempts int, stepDelay time.Duration) *Dispatcher {
	if attempts > 0 {
		d.attempts = attempts
	}
	if stepDelay >= 0 {
		d.stepDelay = stepDelay
	}
	return d
}

func (d *Dispatcher) WithRetryDelay(v time.Duration) *Dispatcher {
	if v > 0 {
		d.retryDelay = v
	}
	return d
}

func notifiedKey(eventID string) string {
	return "notified:" + eventID
}

// DeadLetter is what lands on the dead-letter topic.
type DeadLetter struct {
	Event       json.RawMessage `json:"event"`
	FailedSteps []string        `json:"failed_steps"`
	Error       string          `json:"error"`
	Attempts    int             `json:"attempts"`
	ParkedAt    time.Time       `json:"parked_at"`
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Handle processes one event. Broadcast, registration and notification run
// independently with bounded attempts; what still fails is parked and the
// message is committed. An error is returned only when parking fails, so every
// step must be safe to repeat.
func (d *Dispatcher) Handle(ctx context.Context, key, value []byte) error {
	var msg messages.ShipmentStatusChanged
	if err := json.Unmarshal(value, &msg); err != nil {
		// битое сообщение не лечится повтором
		slog.Error("skip undecodable shipment event", "key", string(key), "error", err.Error())
		return nil
	}
	if msg.EventID == "" || msg.ShipmentID == "" {
		slog.Error("skip shipment event without ids", "key", string(key))
		return nil
	}
	d.totalHandled.Add(1)

	steps := []step{{"broadcast", func(ctx context.Context) error { return d.broadcast(ctx, msg, value) }}}
	if msg.Register {
		steps = append(steps, step{"register", func(ctx context.Context) error { return d.register(ctx, msg) }})
	}
	if msg.Notify {
		steps = append(steps, step{"notify", func(ctx context.Context) error { return d.notify(ctx, msg) }})
	}

	var failed []string
	var lastErr error
	for _, st := range steps {
		if err := d.runStep(ctx, msg, st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed = append(failed, st.name)
			lastErr = err
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return d.park(ctx, key, value, msg, failed, lastErr)
}

func (d *Dispatcher) runStep(ctx context.Context, msg messages.ShipmentStatusChanged, st step) error {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = st.run(ctx); err == nil {
			return nil
		}
		d.fail(err)
		slog.Warn("shipment side effect failed",
			"step", st.name, "event_id", msg.EventID, "attempt", attempt, "error", err.Error())
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.stepDelay):
		}
	}
	return err
}

func (d *Dispatcher) park(ctx context.Context, key, value []byte, msg messages.ShipmentStatusChanged, failed []string, cause error) error {
	if d.parker == nil || d.dlqTopic == "" {
		slog.Error("shipment side effects dropped",
			"event_id", msg.EventID, "failed_steps", failed, "error", cause.Error())
		return nil
	}
	b, err := json.Marshal(DeadLetter{
		Event:       value,
		FailedSteps: failed,
		Error:       cause.Error(),
		Attempts:    d.attempts,
		ParkedAt:    time.Now().UTC(),
	})
	if err != nil {
		return d.fail(errors.Wrap(err, "marshal dead letter"))
	}
	if err := d.parker.Publish(ctx, d.dlqTopic, key, b); err != nil {
		// без DLQ не коммитим: сообщение перечитается
		return d.fail(errors.Wrap(err, "park shipment event"))
	}
	d.totalParked.Add(1)
	slog.Error("shipment event parked",
		"event_id", msg.EventID, "topic", d.dlqTopic, "failed_steps", failed, "error", cause.Error())
	return nil
}

func (d *Dispatcher) broadcast(ctx context.Context, msg messages.ShipmentStatusChanged, payload []byte) error {
	if d.broadcaster == nil {
		return nil
	}
	if _, err := d.broadcaster.Publish(ctx, msg.BroadcastChannel(), payload); err != nil {
		return errors.Wrap(err, "broadcast")
	}
	d.totalBroadcast.Add(1)
	return nil
}

func (d *Dispatcher) register(ctx context.Context, msg messages.ShipmentStatusChanged) error {
	if d.aggregator == nil {
		return nil
	}
	err := d.aggregator.Register(ctx, aggregator.Registration{
		TrackingNumber: msg.TrackingNumber,
		CarrierCode:    msg.CarrierCode,
	})
	if err != nil {
		return errors.Wrap(err, "aggregator register")
	}
	d.totalRegistered.Add(1)
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, msg messages.ShipmentStatusChanged) error {
	if d.sender == nil {
		return nil
	}
	k := notifiedKey(msg.EventID)
	if d.dedup != nil {
		first, err := d.dedup.SetNX(ctx, k, d.notifiedTTL)
		if err != nil {
			return errors.Wrap(err, "notify dedup")
		}
		if !first {
			slog.Info("notification already sent", "event_id", msg.EventID)
			return nil
		}
	}

	err := d.sender.Send(ctx, notifier.Notification{
		EventID:        msg.EventID,
		Template:       notifier.TemplateFor(msg.NewStatus),
		ShipmentID:     msg.ShipmentID,
		OrderID:        msg.OrderID,
		OrderNumber:    msg.OrderNumber,
		Recipient:      msg.CustomerEmail,
		TrackingNumber: msg.TrackingNumber,
		CarrierCode:    msg.CarrierCode,
		TrackingURL:    msg.TrackingURL,
		Status:         msg.NewStatus,
		StatusDetail:   msg.StatusDetail,
	})
	if err != nil {
		// снимаем отметку, чтобы повтор сообщения снова попробовал отправить
		if d.dedup != nil {
			if derr := d.dedup.Delete(ctx, k); derr != nil {
				slog.Error("release notify key", "event_id", msg.EventID, "error", derr.Error())
			}
		}
		return errors.Wrap(err, "send notification")
	}
	d.totalNotified.Add(1)
	return nil
}

// Run consumes until ctx is done. After a handler or broker error the reader is
// recreated and resumes from the last committed offset.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		c := d.newConsumer()
		err := c.Consume(ctx, func(key, value []byte) error {
			return d.Handle(ctx, key, value)
		})
		_ = c.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("shipment events consumer stopped", "error", errString(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryDelay):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type Stats struct {
	TotalHandled    int64  `json:"totalHandled"`
	TotalBroadcast  int64  `json:"totalBroadcast"`
	TotalNotified   int64  `json:"totalNotified"`
	TotalRegistered int64  `json:"totalRegistered"`
	TotalErrors     int64  `json:"totalErrors"`
	TotalParked     int64  `json:"totalParked"`
	LastError       string `json:"lastError,omitempty"`
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		TotalHandled:    d.totalHandled.Load(),
		TotalBroadcast:  d.totalBroadcast.Load(),
		TotalNotified:   d.totalNotified.Load(),
		TotalRegistered: d.totalRegistered.Load(),
		TotalErrors:     d.totalErrors.Load(),
		TotalParked:     d.totalParked.Load(),
	}
	d.lastErrorMu.Lock()
	st.LastError = d.lastError
	d.lastErrorMu.Unlock()
	return st
}
