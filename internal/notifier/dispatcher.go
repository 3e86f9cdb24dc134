package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caseobserver/internal/changes"
	"caseobserver/internal/domain"
	"caseobserver/internal/eventbus"
	logx "caseobserver/pkg/logx"

	"github.com/google/uuid"
)

const messageDateLayout = "2006-01-02 15:04"

// NotificationStore is the persistence the dispatcher needs.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
}

// Enqueuer accepts deliveries; *Service implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, d Delivery) error
}

type Dispatcher struct {
	store NotificationStore
	queue Enqueuer
	log   logx.Logger
	bus   eventbus.Bus
}

func NewDispatcher(store NotificationStore, queue Enqueuer, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{store: store, queue: queue, log: log, bus: bus}
}

// ShouldNotify is true when at least one changed category has its toggle on.
func ShouldNotify(cs changes.ChangeSet, st domain.Settings) bool {
	c := cs.Categories()
	return (c.Status && st.NotifyStatus) ||
		(c.ProceduralStage && st.NotifyProceduralStage) ||
		(c.Hearings && st.NotifyHearings) ||
		(c.Parties && st.NotifyParties)
}

// MaybeNotify persists a notification for sub when the decision rule passes
// and queues its channel deliveries. It returns nil, nil when nothing is sent.
// Only the persistence error is returned; delivery problems are logged.
func (d *Dispatcher) MaybeNotify(ctx context.Context, sub domain.Subscriber, c domain.Case, cs changes.ChangeSet, st domain.Settings, at time.Time) (*domain.Notification, error) {
	if !ShouldNotify(cs, st) {
		return nil, nil
	}

	n := domain.Notification{
		ID:           uuid.NewString(),
		SubscriberID: sub.ID,
		CaseID:       c.ID,
		Subject:      RenderSubject(c, cs),
		Message:      RenderMessage(c, cs, at),
		SentAt:       at,
	}
	if err := d.store.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification for subscriber %s: %w", sub.ID, err)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationCreated, Time: at, Data: NotificationEvent{ID: n.ID, SubscriberID: n.SubscriberID, CaseID: n.CaseID, Subject: n.Subject, At: at}})
	}

	if st.EmailEnabled && strings.TrimSpace(sub.Email) != "" {
		d.enqueue(ctx, Delivery{Channel: ChannelEmail, To: sub.Email, Subject: n.Subject, Body: n.Message, NotificationID: n.ID, CaseID: c.ID})
	}
	if st.SMSEnabled && strings.TrimSpace(sub.Phone) != "" {
		d.enqueue(ctx, Delivery{Channel: ChannelSMS, To: sub.Phone, Body: n.Message, NotificationID: n.ID, CaseID: c.ID})
	}
	return &n, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, del Delivery) {
	if d.queue == nil {
		return
	}
	if err := d.queue.Enqueue(ctx, del); err != nil {
		d.log.Warn("delivery not queued",
			logx.String("channel", string(del.Channel)),
			logx.String("notification_id", del.NotificationID),
			logx.Err(err),
		)
	}
}

// ListForSubscriber returns the subscriber's notifications, newest first.
func (d *Dispatcher) ListForSubscriber(ctx context.Context, subscriberID string, limit int) ([]domain.Notification, error) {
	return d.List(ctx, domain.NotificationQuery{SubscriberID: subscriberID, Limit: limit})
}

// ListForCase returns the case's notifications, newest first.
func (d *Dispatcher) ListForCase(ctx context.Context, caseID string, limit int) ([]domain.Notification, error) {
	return d.List(ctx, domain.NotificationQuery{CaseID: caseID, Limit: limit})
}

func (d *Dispatcher) List(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return d.store.ListNotifications(ctx, q)
}

// MarkRead stamps ReadAt once; later calls keep the first timestamp.
func (d *Dispatcher) MarkRead(ctx context.Context, id string, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("id", "required")
	}
	return d.store.MarkNotificationRead(ctx, id, at)
}

// RenderSubject names the primary change: status, then hearings, then parties.
func RenderSubject(c domain.Case, cs changes.ChangeSet) string {
	suffix := "Case Updated"
	switch {
	case cs.Status.Changed:
		suffix = "Status Changed"
	case cs.HearingsChanged():
		suffix = "Hearing Updates"
	case cs.PartiesChanged():
		suffix = "Party Changes"
	}
	return "Case Update: " + c.Number + " - " + suffix
}

// RenderMessage is deterministic in (c, cs, at).
func RenderMessage(c domain.Case, cs changes.ChangeSet, at time.Time) string {
	var b strings.Builder
	b.WriteString("Case Update Notification\n")
	b.WriteString("========================\n\n")
	fmt.Fprintf(&b, "Case: %s\n", c.Number)
	fmt.Fprintf(&b, "Court: %s\n", c.Court)
	fmt.Fprintf(&b, "Date: %s\n\n", at.Format(messageDateLayout))

	b.WriteString("Changes detected:\n")
	b.WriteString("----------------\n")
	scalars := []struct {
		label string
		ch    changes.ScalarChange
	}{
		{"Status", cs.Status},
		{"Procedural stage", cs.ProceduralStage},
		{"Category", cs.Category},
		{"Subject", cs.Subject},
		{"Department", cs.Department},
	}
	for _, s := range scalars {
		if s.ch.Changed {
			fmt.Fprintf(&b, "• %s changed from '%s' to '%s'\n", s.label, s.ch.Old, s.ch.New)
		}
	}

	if cs.HearingsChanged() {
		b.WriteString("\nHearing Changes:\n")
		for _, h := range cs.Hearings {
			fmt.Fprintf(&b, "• %s: %s\n", h.Kind, h.Description)
		}
	}
	if cs.PartiesChanged() {
		b.WriteString("\nParty Changes:\n")
		for _, p := range cs.Parties {
			fmt.Fprintf(&b, "• %s: %s\n", p.Kind, p.Description)
		}
	}

	b.WriteString("\nPlease log in to your Case Observer account to view full details.\n")
	b.WriteString("This is an automated notification. Please do not reply to this email.")
	return b.String()
}
