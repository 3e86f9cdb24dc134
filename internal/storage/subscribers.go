package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"caseobserver/internal/domain"
)

var subscriberColumns = []string{"id", "name", "email", "phone", "created_at"}

type subscriberRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
	CreatedAt int64  `db:"created_at"`
}

func (r subscriberRow) toDomain() domain.Subscriber {
	return domain.Subscriber{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Phone:     r.Phone,
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

// SaveSubscriber inserts the subscriber or updates its contact details.
func (s *sqlStore) SaveSubscriber(ctx context.Context, sub domain.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := exec(ctx, s.db, s.sb.Insert("subscribers").Columns(subscriberColumns...).
		Values(sub.ID, sub.Name, sub.Email, sub.Phone, millis(sub.CreatedAt)).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone"))
	if err != nil {
		return fmt.Errorf("saving subscriber %s: %w", sub.ID, err)
	}
	return nil
}

func (s *sqlStore) GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error) {
	var row subscriberRow
	if err := get(ctx, s.db, &row, s.sb.Select(subscriberColumns...).From("subscribers").Where(sq.Eq{"id": id})); err != nil {
		return domain.Subscriber{}, notFound(err, "subscriber", id)
	}
	return row.toDomain(), nil
}

// Subscribe is idempotent.
func (s *sqlStore) Subscribe(ctx context.Context, subscriberID, caseID string, at time.Time) error {
	_, err := exec(ctx, s.db, s.sb.Insert("subscriptions").
		Columns("subscriber_id", "case_id", "created_at").
		Values(subscriberID, caseID, millis(at)).
		Suffix("ON CONFLICT (subscriber_id, case_id) DO NOTHING"))
	if err != nil {
		return fmt.Errorf("subscribing %s to case %s: %w", subscriberID, caseID, err)
	}
	return nil
}

func (s *sqlStore) Unsubscribe(ctx context.Context, subscriberID, caseID string) error {
	_, err := exec(ctx, s.db, s.sb.Delete("subscriptions").
		Where(sq.Eq{"subscriber_id": subscriberID, "case_id": caseID}))
	if err != nil {
		return fmt.Errorf("unsubscribing %s from case %s: %w", subscriberID, caseID, err)
	}
	return nil
}

// ListSubscribers returns the subscribers of a case in subscription order.
func (s *sqlStore) ListSubscribers(ctx context.Context, caseID string) ([]domain.Subscriber, error) {
	var rows []subscriberRow
	err := selectAll(ctx, s.db, &rows, s.sb.Select(qualified("s", subscriberColumns)...).
		From("subscribers s").
		Join("subscriptions sub ON sub.subscriber_id = s.id").
		Where(sq.Eq{"sub.case_id": caseID}).
		OrderBy("sub.created_at ASC", "s.id ASC"))
	if err != nil {
		return nil, fmt.Errorf("listing subscribers of case %s: %w", caseID, err)
	}
	out := make([]domain.Subscriber, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
