package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"caseobserver/internal/domain"
)

// errVersionConflict signals a lost compare-and-swap; callers retry.
var errVersionConflict = errors.New("settings version conflict")

var settingsColumns = []string{
	"case_id", "interval_minutes",
	"email_enabled", "sms_enabled",
	"notify_status", "notify_procedural_stage", "notify_hearings", "notify_parties",
	"last_checked_at", "next_check_at", "version", "created_at", "updated_at",
}

type settingsRow struct {
	CaseID                string        `db:"case_id"`
	IntervalMinutes       int           `db:"interval_minutes"`
	EmailEnabled          bool          `db:"email_enabled"`
	SMSEnabled            bool          `db:"sms_enabled"`
	NotifyStatus          bool          `db:"notify_status"`
	NotifyProceduralStage bool          `db:"notify_procedural_stage"`
	NotifyHearings        bool          `db:"notify_hearings"`
	NotifyParties         bool          `db:"notify_parties"`
	LastCheckedAt         sql.NullInt64 `db:"last_checked_at"`
	NextCheckAt           sql.NullInt64 `db:"next_check_at"`
	Version               int64         `db:"version"`
	CreatedAt             int64         `db:"created_at"`
	UpdatedAt             int64         `db:"updated_at"`
}

func (r settingsRow) toDomain() domain.Settings {
	return domain.Settings{
		CaseID:                r.CaseID,
		IntervalMinutes:       r.IntervalMinutes,
		EmailEnabled:          r.EmailEnabled,
		SMSEnabled:            r.SMSEnabled,
		NotifyStatus:          r.NotifyStatus,
		NotifyProceduralStage: r.NotifyProceduralStage,
		NotifyHearings:        r.NotifyHearings,
		NotifyParties:         r.NotifyParties,
		LastCheckedAt:         fromNullMillis(r.LastCheckedAt),
		NextCheckAt:           fromNullMillis(r.NextCheckAt),
		Version:               r.Version,
		CreatedAt:             fromMillis(r.CreatedAt),
		UpdatedAt:             fromMillis(r.UpdatedAt),
	}
}

func qualified(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + "." + c
	}
	return out
}

func (s *sqlStore) insertSettings(ctx context.Context, tx *sqlx.Tx, set domain.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	_, err := exec(ctx, tx, s.sb.Insert("monitoring_settings").Columns(settingsColumns...).Values(
		set.CaseID, set.IntervalMinutes,
		set.EmailEnabled, set.SMSEnabled,
		set.NotifyStatus, set.NotifyProceduralStage, set.NotifyHearings, set.NotifyParties,
		nullMillis(set.LastCheckedAt), nullMillis(set.NextCheckAt), set.Version,
		millis(set.CreatedAt), millis(set.UpdatedAt),
	))
	if isUniqueViolation(err) {
		return errVersionConflict
	}
	if err != nil {
		return fmt.Errorf("inserting settings of case %s: %w", set.CaseID, err)
	}
	return nil
}

func (s *sqlStore) GetSettings(ctx context.Context, caseID string) (domain.Settings, error) {
	var row settingsRow
	err := get(ctx, s.db, &row, s.sb.Select(settingsColumns...).From("monitoring_settings").Where(sq.Eq{"case_id": caseID}))
	if err != nil {
		return domain.Settings{}, notFound(err, "settings of case", caseID)
	}
	return row.toDomain(), nil
}

// UpdateSettings applies fn to the current settings and writes the result
// if no other writer committed in between. Lost races are retried with a
// fresh read.
func (s *sqlStore) UpdateSettings(ctx context.Context, caseID string, fn SettingsFunc) (domain.Settings, error) {
	return s.modifySettings(ctx, caseID, nil, false, fn)
}

// SetMonitoring flips the case's monitoring flag and applies fn to its
// settings in one transaction. Missing settings are created from defaults.
func (s *sqlStore) SetMonitoring(ctx context.Context, caseID string, enabled bool, fn SettingsFunc) (domain.Settings, error) {
	return s.modifySettings(ctx, caseID, &enabled, true, fn)
}

func (s *sqlStore) modifySettings(ctx context.Context, caseID string, enabled *bool, create bool, fn SettingsFunc) (domain.Settings, error) {
	var out domain.Settings
	for attempt := 1; ; attempt++ {
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			if enabled != nil {
				n, err := exec(ctx, tx, s.sb.Update("cases").
					Set("monitoring_enabled", *enabled).
					Where(sq.Eq{"id": caseID}))
				if err != nil {
					return fmt.Errorf("updating monitoring flag of case %s: %w", caseID, err)
				}
				if n == 0 {
					return fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
				}
			}

			var row settingsRow
			err := get(ctx, tx, &row, s.sb.Select(settingsColumns...).From("monitoring_settings").Where(sq.Eq{"case_id": caseID}))
			missing := errors.Is(err, sql.ErrNoRows)
			if err != nil && !(missing && create) {
				return notFound(err, "settings of case", caseID)
			}

			now := time.Now().UTC()
			cur := row.toDomain()
			if missing {
				cur = domain.DefaultSettings(caseID, 0, now)
			}
			next := cur
			if fn != nil {
				if err := fn(&next); err != nil {
					return err
				}
			}
			next.CaseID = caseID
			if err := next.Validate(); err != nil {
				return err
			}
			next.UpdatedAt = now
			next.Version = cur.Version + 1

			if missing {
				next.CreatedAt = now
				if err := s.insertSettings(ctx, tx, next); err != nil {
					return err
				}
				out = next
				return nil
			}

			n, err := exec(ctx, tx, s.sb.Update("monitoring_settings").SetMap(map[string]any{
				"interval_minutes":        next.IntervalMinutes,
				"email_enabled":           next.EmailEnabled,
				"sms_enabled":             next.SMSEnabled,
				"notify_status":           next.NotifyStatus,
				"notify_procedural_stage": next.NotifyProceduralStage,
				"notify_hearings":         next.NotifyHearings,
				"notify_parties":          next.NotifyParties,
				"last_checked_at":         nullMillis(next.LastCheckedAt),
				"next_check_at":           nullMillis(next.NextCheckAt),
				"version":                 next.Version,
				"updated_at":              millis(now),
			}).Where(sq.Eq{"case_id": caseID, "version": cur.Version}))
			if err != nil {
				return fmt.Errorf("updating settings of case %s: %w", caseID, err)
			}
			if n == 0 {
				return errVersionConflict
			}
			out = next
			return nil
		})
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errVersionConflict) || attempt >= maxCASRetries {
			if errors.Is(err, errVersionConflict) {
				return domain.Settings{}, fmt.Errorf("settings of case %s: %w", caseID, domain.ErrConflict)
			}
			return domain.Settings{}, err
		}
		s.log.Debug("settings write lost a race, retrying")
		if err := ctx.Err(); err != nil {
			return domain.Settings{}, err
		}
	}
}

// ListDue returns settings of monitoring-enabled cases whose next check is
// at or before now, oldest first.
func (s *sqlStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Settings, error) {
	b := s.sb.Select(qualified("ms", settingsColumns)...).
		From("monitoring_settings ms").
		Join("cases c ON c.id = ms.case_id").
		Where(sq.Eq{"c.monitoring_enabled": true}).
		Where(sq.LtOrEq{"ms.next_check_at": millis(now)}).
		OrderBy("ms.next_check_at ASC", "ms.case_id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.listSettings(ctx, b)
}

// ListMonitored returns settings of every monitoring-enabled case.
func (s *sqlStore) ListMonitored(ctx context.Context) ([]domain.Settings, error) {
	b := s.sb.Select(qualified("ms", settingsColumns)...).
		From("monitoring_settings ms").
		Join("cases c ON c.id = ms.case_id").
		Where(sq.Eq{"c.monitoring_enabled": true}).
		OrderBy("ms.case_id ASC")
	return s.listSettings(ctx, b)
}

func (s *sqlStore) listSettings(ctx context.Context, b sq.SelectBuilder) ([]domain.Settings, error) {
	var rows []settingsRow
	if err := selectAll(ctx, s.db, &rows, b); err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	out := make([]domain.Settings, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
