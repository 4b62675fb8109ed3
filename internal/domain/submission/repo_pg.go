package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mform/mform/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const submissionCols = `id, form_id, name, submit_date, client_identifier, answer_json, searchable_text,
	confirm_key1, confirm_key2, unique_key1, unique_key2,
	is_confirmed, confirmed_at, confirmed_by,
	device_type, os_name, browser_name, browser_version,
	push_state, pushed_at, push_message, push_request_no, push_mapping_id`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.FormID, &s.Name, &s.SubmitDate, &s.ClientIdentifier, &s.AnswerJSON, &s.SearchableText,
		&s.ConfirmKey1, &s.ConfirmKey2, &s.UniqueKey1, &s.UniqueKey2,
		&s.IsConfirmed, &s.ConfirmedAt, &s.ConfirmedBy,
		&s.DeviceType, &s.OSName, &s.BrowserName, &s.BrowserVersion,
		&s.PushState, &s.PushedAt, &s.PushMessage, &s.PushRequestNo, &s.PushMappingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

const lineCols = `id, submission_id, component_id, sequence_snapshot, kind_snapshot, attachment_id, key, label, value_text`

func scanLine(row pgx.Row) (*Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.SubmissionID, &l.ComponentID, &l.SequenceSnapshot, &l.KindSnapshot,
		&l.AttachmentID, &l.Key, &l.Label, &l.ValueText)
	return &l, err
}

// Create writes the header and lines in one transaction so the answer
// snapshot and line set never diverge.
func (r *repoPG) Create(ctx context.Context, s *Submission) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		conn := r.conn(ctx)

		var seq int64
		if err := conn.QueryRow(ctx, `SELECT nextval('submission_name_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("allocating submission name: %w", err)
		}
		s.ID = uuid.New()
		s.Name = fmt.Sprintf("SUB%05d", seq)
		if s.SubmitDate.IsZero() {
			s.SubmitDate = time.Now().UTC()
		}
		if s.PushState == "" {
			s.PushState = PushStateNone
		}
		s.SearchableText = s.SearchText()

		_, err := conn.Exec(ctx, `
			INSERT INTO submission (id, form_id, name, submit_date, client_identifier, answer_json, searchable_text,
				confirm_key1, confirm_key2, unique_key1, unique_key2,
				device_type, os_name, browser_name, browser_version, push_state)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			s.ID, s.FormID, s.Name, s.SubmitDate, s.ClientIdentifier, s.AnswerJSON, s.SearchableText,
			s.ConfirmKey1, s.ConfirmKey2, s.UniqueKey1, s.UniqueKey2,
			s.DeviceType, s.OSName, s.BrowserName, s.BrowserVersion, s.PushState)
		if err != nil {
			return err
		}

		for _, line := range s.Lines {
			line.ID = uuid.New()
			line.SubmissionID = s.ID
			_, err := conn.Exec(ctx, `
				INSERT INTO submission_line (id, submission_id, component_id, sequence_snapshot, kind_snapshot,
					attachment_id, key, label, value_text)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				line.ID, line.SubmissionID, line.ComponentID, line.SequenceSnapshot, line.KindSnapshot,
				line.AttachmentID, line.Key, line.Label, line.ValueText)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	s, err := scanSubmission(r.conn(ctx).QueryRow(ctx, `SELECT `+submissionCols+` FROM submission WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	s.Lines, err = r.linesFor(ctx, s.ID)
	return s, err
}

func (r *repoPG) linesFor(ctx context.Context, submissionID uuid.UUID) ([]*Line, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM submission_line WHERE submission_id = $1 ORDER BY sequence_snapshot, id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []*Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repoPG) ListByForm(ctx context.Context, formID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM submission WHERE form_id = $1`, formID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+submissionCols+` FROM submission WHERE form_id = $1 ORDER BY submit_date DESC, id DESC LIMIT $2 OFFSET $3`,
		formID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListWithLines(ctx context.Context, formID *uuid.UUID, ids []uuid.UUID) ([]*Submission, error) {
	query := `SELECT ` + submissionCols + ` FROM submission`
	var args []interface{}
	switch {
	case len(ids) > 0:
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	case formID != nil:
		query += ` WHERE form_id = $1`
		args = append(args, *formID)
	}
	query += ` ORDER BY submit_date, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, s := range items {
		if s.Lines, err = r.linesFor(ctx, s.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *repoPG) CountByForm(ctx context.Context, formID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM submission WHERE form_id = $1`, formID).Scan(&n)
	return n, err
}

func (r *repoPG) CountByClient(ctx context.Context, formID uuid.UUID, clientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM submission WHERE form_id = $1 AND client_identifier = $2`, formID, clientID).Scan(&n)
	return n, err
}

func (r *repoPG) CountByUniqueKey(ctx context.Context, formID uuid.UUID, slot int, value string) (int, error) {
	col := "unique_key1"
	if slot == 2 {
		col = "unique_key2"
	}
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM submission WHERE form_id = $1 AND `+col+` = $2`, formID, value).Scan(&n)
	return n, err
}

func (r *repoPG) FindByConfirmCode(ctx context.Context, formID *uuid.UUID, code string) ([]*Submission, error) {
	query := `SELECT ` + submissionCols + ` FROM submission WHERE (confirm_key1 = $1 OR confirm_key2 = $1)`
	args := []interface{}{code}
	if formID != nil {
		query += ` AND form_id = $2`
		args = append(args, *formID)
	}
	query += ` LIMIT 2`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateKeys(ctx context.Context, id uuid.UUID, keys KeyValues) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE submission SET confirm_key1=$2, confirm_key2=$3, unique_key1=$4, unique_key2=$5 WHERE id = $1`,
		id, keys.ConfirmKey1, keys.ConfirmKey2, keys.UniqueKey1, keys.UniqueKey2)
	return err
}

func (r *repoPG) SetConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, by string, at *time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE submission SET is_confirmed=$2, confirmed_by=$3, confirmed_at=$4 WHERE id = $1`,
		id, confirmed, by, at)
	return err
}

func (r *repoPG) SetPushResult(ctx context.Context, id uuid.UUID, result PushResult) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE submission SET push_state=$2, push_message=$3, push_request_no=$4, push_mapping_id=$5, pushed_at=$6 WHERE id = $1`,
		id, result.State, result.Message, result.RequestNo, result.MappingID, result.At)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM submission WHERE id = $1`, id)
	return err
}
