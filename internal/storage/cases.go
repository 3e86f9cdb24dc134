package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"caseobserver/internal/domain"
)

var caseColumns = []string{
	"id", "number", "court", "monitoring_enabled",
	"status", "procedural_stage", "category", "category_name",
	"subject", "department", "modified_at", "hearings", "parties",
	"created_at", "updated_at",
}

type caseRow struct {
	ID                string `db:"id"`
	Number            string `db:"number"`
	Court             string `db:"court"`
	MonitoringEnabled bool   `db:"monitoring_enabled"`
	Status            string `db:"status"`
	ProceduralStage   string `db:"procedural_stage"`
	Category          string `db:"category"`
	CategoryName      string `db:"category_name"`
	Subject           string `db:"subject"`
	Department        string `db:"department"`
	ModifiedAt        string `db:"modified_at"`
	Hearings          string `db:"hearings"`
	Parties           string `db:"parties"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
}

func (r caseRow) toDomain() (domain.Case, error) {
	c := domain.Case{
		ID:                r.ID,
		Number:            r.Number,
		Court:             r.Court,
		MonitoringEnabled: r.MonitoringEnabled,
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
		Snapshot: domain.Snapshot{
			Number:          r.Number,
			Court:           r.Court,
			Status:          r.Status,
			ProceduralStage: r.ProceduralStage,
			Category:        r.Category,
			CategoryName:    r.CategoryName,
			Subject:         r.Subject,
			Department:      r.Department,
			ModifiedAt:      r.ModifiedAt,
		},
	}
	if err := json.Unmarshal([]byte(r.Hearings), &c.Snapshot.Hearings); err != nil {
		return domain.Case{}, fmt.Errorf("decoding hearings of case %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Parties), &c.Snapshot.Parties); err != nil {
		return domain.Case{}, fmt.Errorf("decoding parties of case %s: %w", r.ID, err)
	}
	return c, nil
}

func encodeChildren(snap domain.Snapshot) (hearings, parties string, err error) {
	h := snap.Hearings
	if h == nil {
		h = []domain.Hearing{}
	}
	p := snap.Parties
	if p == nil {
		p = []domain.Party{}
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return "", "", err
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	return string(hb), string(pb), nil
}

// CreateCase inserts the case together with its settings row.
func (s *sqlStore) CreateCase(ctx context.Context, c domain.Case, set domain.Settings) error {
	hearings, parties, err := encodeChildren(c.Snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := exec(ctx, tx, s.sb.Insert("cases").Columns(caseColumns...).Values(
			c.ID, c.Number, c.Court, c.MonitoringEnabled,
			c.Snapshot.Status, c.Snapshot.ProceduralStage, c.Snapshot.Category, c.Snapshot.CategoryName,
			c.Snapshot.Subject, c.Snapshot.Department, c.Snapshot.ModifiedAt, hearings, parties,
			millis(c.CreatedAt), millis(c.UpdatedAt),
		))
		if isUniqueViolation(err) {
			return fmt.Errorf("case %s at %s: %w", c.Number, c.Court, domain.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("creating case: %w", err)
		}
		set.CaseID = c.ID
		return s.insertSettings(ctx, tx, set)
	})
}

func (s *sqlStore) GetCase(ctx context.Context, id string) (domain.Case, error) {
	var row caseRow
	err := get(ctx, s.db, &row, s.sb.Select(caseColumns...).From("cases").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Case{}, notFound(err, "case", id)
	}
	return row.toDomain()
}

func (s *sqlStore) FindCase(ctx context.Context, number, court string) (domain.Case, error) {
	var row caseRow
	err := get(ctx, s.db, &row, s.sb.Select(caseColumns...).From("cases").
		Where(sq.Eq{"number": number, "court": court}))
	if err != nil {
		return domain.Case{}, notFound(err, "case", number+"@"+court)
	}
	return row.toDomain()
}

// SaveSnapshot overwrites the stored snapshot of a case. The identifying
// number and court are left untouched.
func (s *sqlStore) SaveSnapshot(ctx context.Context, caseID string, snap domain.Snapshot, at time.Time) error {
	hearings, parties, err := encodeChildren(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	n, err := exec(ctx, s.db, s.sb.Update("cases").SetMap(map[string]any{
		"status":           snap.Status,
		"procedural_stage": snap.ProceduralStage,
		"category":         snap.Category,
		"category_name":    snap.CategoryName,
		"subject":          snap.Subject,
		"department":       snap.Department,
		"modified_at":      snap.ModifiedAt,
		"hearings":         hearings,
		"parties":          parties,
		"updated_at":       millis(at),
	}).Where(sq.Eq{"id": caseID}))
	if err != nil {
		return fmt.Errorf("saving snapshot of case %s: %w", caseID, err)
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
	}
	return nil
}
