package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"caseobserver/internal/domain"
)

var notificationColumns = []string{"id", "subscriber_id", "case_id", "subject", "message", "sent_at", "read_at"}

type notificationRow struct {
	ID           string        `db:"id"`
	SubscriberID string        `db:"subscriber_id"`
	CaseID       string        `db:"case_id"`
	Subject      string        `db:"subject"`
	Message      string        `db:"message"`
	SentAt       int64         `db:"sent_at"`
	ReadAt       sql.NullInt64 `db:"read_at"`
}

func (r notificationRow) toDomain() domain.Notification {
	return domain.Notification{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		CaseID:       r.CaseID,
		Subject:      r.Subject,
		Message:      r.Message,
		SentAt:       fromMillis(r.SentAt),
		ReadAt:       fromNullMillis(r.ReadAt),
	}
}

func (s *sqlStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := exec(ctx, s.db, s.sb.Insert("notifications").Columns(notificationColumns...).Values(
		n.ID, n.SubscriberID, n.CaseID, n.Subject, n.Message, millis(n.SentAt), nullMillis(n.ReadAt),
	))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications newest first.
func (s *sqlStore) ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	b := s.sb.Select(notificationColumns...).From("notifications").OrderBy("sent_at DESC", "id DESC")
	if q.SubscriberID != "" {
		b = b.Where(sq.Eq{"subscriber_id": q.SubscriberID})
	} else {
		b = b.Where(sq.Eq{"case_id": q.CaseID})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	var rows []notificationRow
	if err := selectAll(ctx, s.db, &rows, b); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// MarkNotificationRead sets read_at once; later calls keep the first value.
func (s *sqlStore) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	var exists int
	err := get(ctx, s.db, &exists, s.sb.Select("1").From("notifications").Where(sq.Eq{"id": id}))
	if err != nil {
		return notFound(err, "notification", id)
	}
	_, err = exec(ctx, s.db, s.sb.Update("notifications").
		Set("read_at", millis(at)).
		Where(sq.Eq{"id": id, "read_at": nil}))
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}
