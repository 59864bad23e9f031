package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/email"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/repository"
	"github.com/jwalitptl/consult-api/pkg/messaging"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

// Notifier accepts status-change notifications. It never reports failure to
// the caller: a lost email must not undo the transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Dispatcher turns a notification into emails, one per recipient.
type Dispatcher struct {
	users   repository.UserRepository
	sender  email.Sender
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(users repository.UserRepository, sender email.Sender, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		users:   users,
		sender:  sender,
		metrics: m,
		logger:  logger.With().Str("component", "notification").Logger(),
	}
}

// Deliver sends to every recipient it can resolve and returns the first error.
func (d *Dispatcher) Deliver(ctx context.Context, n model.Notification) error {
	subject, body := Render(n)

	var firstErr error
	for _, id := range n.RecipientIDs {
		user, err := d.users.Get(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to resolve recipient %s: %w", id, err)
			}
			continue
		}
		if err := d.sender.Send(ctx, user.Email, subject, body); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	if firstErr != nil {
		d.metrics.NotificationsFailed.WithLabelValues(string(n.Kind)).Inc()
		d.logger.Warn().Err(firstErr).
			Str("kind", string(n.Kind)).
			Str("appointment_id", n.AppointmentID.String()).
			Msg("notification delivery failed")
		return firstErr
	}
	d.metrics.NotificationsSent.WithLabelValues(string(n.Kind)).Inc()
	return nil
}

// Render builds the email subject and body for n.
func Render(n model.Notification) (string, string) {
	ref := shortID(n.AppointmentID)
	var subject, lead string
	switch n.Kind {
	case model.NotificationBooked:
		subject = "Appointment booked"
		lead = "Your appointment has been booked and is awaiting payment."
	case model.NotificationConfirmed:
		subject = "Payment received"
		lead = "Payment received. Your appointment is confirmed."
	case model.NotificationCancelled:
		subject = "Appointment cancelled"
		lead = "Your appointment has been cancelled."
	case model.NotificationRescheduled:
		subject = "Appointment rescheduled"
		lead = "Your appointment has been moved to a new slot."
	case model.NotificationRefunded:
		subject = "Payment refunded"
		lead = "Your payment has been refunded and the appointment cancelled."
	case model.NotificationCompleted:
		subject = "Consultation completed"
		lead = "Your consultation has ended. Thank you."
	default:
		subject = "Appointment update"
		lead = "There is an update to your appointment."
	}

	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\nAppointment: ")
	b.WriteString(ref)
	for _, k := range []string{"date", "start_time", "end_time", "amount", "currency", "txn_ref", "reason"} {
		if v, ok := n.Data[k]; ok && v != "" {
			fmt.Fprintf(&b, "\n%s: %s", strings.ReplaceAll(k, "_", " "), v)
		}
	}
	b.WriteString("\n")
	return fmt.Sprintf("%s (%s)", subject, ref), b.String()
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

type asyncNotifier struct {
	dispatcher *Dispatcher
}

// NewAsync delivers in a background goroutine of this process.
func NewAsync(d *Dispatcher) Notifier {
	return &asyncNotifier{dispatcher: d}
}

func (a *asyncNotifier) Notify(ctx context.Context, n model.Notification) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		_ = a.dispatcher.Deliver(ctx, n)
	}()
}

type brokerNotifier struct {
	publisher messaging.Publisher
	channel   string
	logger    zerolog.Logger
}

// NewBrokerNotifier hands notifications to the worker over the broker.
func NewBrokerNotifier(publisher messaging.Publisher, channel string, logger zerolog.Logger) Notifier {
	return &brokerNotifier{
		publisher: publisher,
		channel:   channel,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

func (b *brokerNotifier) Notify(ctx context.Context, n model.Notification) {
	if err := b.publisher.Publish(context.WithoutCancel(ctx), b.channel, n); err != nil {
		b.logger.Warn().Err(err).
			Str("kind", string(n.Kind)).
			Str("appointment_id", n.AppointmentID.String()).
			Msg("failed to publish notification")
	}
}

// Consumer drains the notification channel into a Dispatcher.
type Consumer struct {
	broker     messaging.Broker
	channel    string
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

func NewConsumer(broker messaging.Broker, channel string, d *Dispatcher, logger zerolog.Logger) *Consumer {
	return &Consumer{broker: broker, channel: channel, dispatcher: d, logger: logger}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("channel", c.channel).Msg("notification consumer started")
	return messaging.Consume(ctx, c.broker, c.channel, c.handle, c.logger)
}

func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	return c.dispatcher.Deliver(ctx, n)
}

type nopNotifier struct{}

func NewNop() Notifier { return nopNotifier{} }

func (nopNotifier) Notify(context.Context, model.Notification) {}
