package form

import (
	"context"
	"errors"

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

// =========== Form Repository ===========

type formRepoPG struct{ pool *pgxpool.Pool }

func NewFormRepoPG(pool *pgxpool.Pool) FormRepository {
	return &formRepoPG{pool: pool}
}

func (r *formRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const formCols = `id, name, access_token, enabled, allow_repeat_submit,
	description, qr_description, success_message, closed_message, duplicate_message,
	confirm_component1_id, confirm_component2_id, unique_component1_id, unique_component2_id,
	created_at, updated_at`

func scanForm(row pgx.Row) (*Form, error) {
	var f Form
	err := row.Scan(&f.ID, &f.Name, &f.AccessToken, &f.Enabled, &f.AllowRepeatSubmit,
		&f.Description, &f.QRDescription, &f.SuccessMessage, &f.ClosedMessage, &f.DuplicateMessage,
		&f.ConfirmComponent1, &f.ConfirmComponent2, &f.UniqueComponent1, &f.UniqueComponent2,
		&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func (r *formRepoPG) Create(ctx context.Context, f *Form) error {
	f.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO form (id, name, access_token, enabled, allow_repeat_submit,
			description, qr_description, success_message, closed_message, duplicate_message,
			confirm_component1_id, confirm_component2_id, unique_component1_id, unique_component2_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		f.ID, f.Name, f.AccessToken, f.Enabled, f.AllowRepeatSubmit,
		f.Description, f.QRDescription, f.SuccessMessage, f.ClosedMessage, f.DuplicateMessage,
		f.ConfirmComponent1, f.ConfirmComponent2, f.UniqueComponent1, f.UniqueComponent2)
	return err
}

func (r *formRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Form, error) {
	return scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM form WHERE id = $1`, id))
}

func (r *formRepoPG) GetByToken(ctx context.Context, token string) (*Form, error) {
	return scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM form WHERE access_token = $1`, token))
}

func (r *formRepoPG) Update(ctx context.Context, f *Form) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE form SET name=$2, enabled=$3, allow_repeat_submit=$4,
			description=$5, qr_description=$6, success_message=$7, closed_message=$8, duplicate_message=$9,
			confirm_component1_id=$10, confirm_component2_id=$11, unique_component1_id=$12, unique_component2_id=$13,
			updated_at=NOW()
		WHERE id = $1`,
		f.ID, f.Name, f.Enabled, f.AllowRepeatSubmit,
		f.Description, f.QRDescription, f.SuccessMessage, f.ClosedMessage, f.DuplicateMessage,
		f.ConfirmComponent1, f.ConfirmComponent2, f.UniqueComponent1, f.UniqueComponent2)
	return err
}

func (r *formRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM form WHERE id = $1`, id)
	return err
}

func (r *formRepoPG) List(ctx context.Context, limit, offset int) ([]*Form, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM form`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+formCols+` FROM form ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

// =========== Component Repository ===========

type componentRepoPG struct{ pool *pgxpool.Pool }

func NewComponentRepoPG(pool *pgxpool.Pool) ComponentRepository {
	return &componentRepoPG{pool: pool}
}

func (r *componentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const componentCols = `id, form_id, key, label, kind, sequence, required, include_in_export,
	placeholder, help_text,
	min_length, max_length, case_mode, only_digits, validation_mode, custom_regex,
	number_pattern, wheel_min, wheel_max, wheel_step, wheel_default,
	date_format, linked_date_key,
	age_min, age_max, age_min_action, age_max_action, age_min_message, age_max_message,
	file_accept, file_max_mb,
	visibility_source, visibility_mode, visibility_match,
	created_at, updated_at`

func scanComponent(row pgx.Row) (*Component, error) {
	var c Component
	err := row.Scan(&c.ID, &c.FormID, &c.Key, &c.Label, &c.Kind, &c.Sequence, &c.Required, &c.IncludeInExport,
		&c.Placeholder, &c.HelpText,
		&c.MinLength, &c.MaxLength, &c.CaseMode, &c.OnlyDigits, &c.ValidationMode, &c.CustomRegex,
		&c.NumberPattern, &c.WheelMin, &c.WheelMax, &c.WheelStep, &c.WheelDefault,
		&c.DateFormat, &c.LinkedDateKey,
		&c.AgeMin, &c.AgeMax, &c.AgeMinAction, &c.AgeMaxAction, &c.AgeMinMessage, &c.AgeMaxMessage,
		&c.FileAccept, &c.FileMaxMB,
		&c.VisibilitySource, &c.VisibilityMode, &c.VisibilityMatch,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *componentRepoPG) Create(ctx context.Context, c *Component) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO form_component (id, form_id, key, label, kind, sequence, required, include_in_export,
			placeholder, help_text,
			min_length, max_length, case_mode, only_digits, validation_mode, custom_regex,
			number_pattern, wheel_min, wheel_max, wheel_step, wheel_default,
			date_format, linked_date_key,
			age_min, age_max, age_min_action, age_max_action, age_min_message, age_max_message,
			file_accept, file_max_mb,
			visibility_source, visibility_mode, visibility_match)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)`,
		c.ID, c.FormID, c.Key, c.Label, c.Kind, c.Sequence, c.Required, c.IncludeInExport,
		c.Placeholder, c.HelpText,
		c.MinLength, c.MaxLength, c.CaseMode, c.OnlyDigits, c.ValidationMode, c.CustomRegex,
		c.NumberPattern, c.WheelMin, c.WheelMax, c.WheelStep, c.WheelDefault,
		c.DateFormat, c.LinkedDateKey,
		c.AgeMin, c.AgeMax, c.AgeMinAction, c.AgeMaxAction, c.AgeMinMessage, c.AgeMaxMessage,
		c.FileAccept, c.FileMaxMB,
		c.VisibilitySource, c.VisibilityMode, c.VisibilityMatch)
	return err
}

func (r *componentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Component, error) {
	return scanComponent(r.conn(ctx).QueryRow(ctx, `SELECT `+componentCols+` FROM form_component WHERE id = $1`, id))
}

func (r *componentRepoPG) GetByKey(ctx context.Context, formID uuid.UUID, key string) (*Component, error) {
	return scanComponent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+componentCols+` FROM form_component WHERE form_id = $1 AND key = $2`, formID, key))
}

func (r *componentRepoPG) Update(ctx context.Context, c *Component) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE form_component SET key=$2, label=$3, kind=$4, sequence=$5, required=$6, include_in_export=$7,
			placeholder=$8, help_text=$9,
			min_length=$10, max_length=$11, case_mode=$12, only_digits=$13, validation_mode=$14, custom_regex=$15,
			number_pattern=$16, wheel_min=$17, wheel_max=$18, wheel_step=$19, wheel_default=$20,
			date_format=$21, linked_date_key=$22,
			age_min=$23, age_max=$24, age_min_action=$25, age_max_action=$26, age_min_message=$27, age_max_message=$28,
			file_accept=$29, file_max_mb=$30,
			visibility_source=$31, visibility_mode=$32, visibility_match=$33,
			updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Key, c.Label, c.Kind, c.Sequence, c.Required, c.IncludeInExport,
		c.Placeholder, c.HelpText,
		c.MinLength, c.MaxLength, c.CaseMode, c.OnlyDigits, c.ValidationMode, c.CustomRegex,
		c.NumberPattern, c.WheelMin, c.WheelMax, c.WheelStep, c.WheelDefault,
		c.DateFormat, c.LinkedDateKey,
		c.AgeMin, c.AgeMax, c.AgeMinAction, c.AgeMaxAction, c.AgeMinMessage, c.AgeMaxMessage,
		c.FileAccept, c.FileMaxMB,
		c.VisibilitySource, c.VisibilityMode, c.VisibilityMatch)
	return err
}

func (r *componentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM form_component WHERE id = $1`, id)
	return err
}

func (r *componentRepoPG) ListByForm(ctx context.Context, formID uuid.UUID) ([]*Component, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+componentCols+` FROM form_component WHERE form_id = $1 ORDER BY sequence, created_at`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// =========== Option Repository ===========

type optionRepoPG struct{ pool *pgxpool.Pool }

func NewOptionRepoPG(pool *pgxpool.Pool) OptionRepository {
	return &optionRepoPG{pool: pool}
}

func (r *optionRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const optionCols = `id, component_id, name, sequence, is_default, parent_id`

func scanOption(row pgx.Row) (*Option, error) {
	var o Option
	err := row.Scan(&o.ID, &o.ComponentID, &o.Name, &o.Sequence, &o.IsDefault, &o.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *optionRepoPG) ListByComponent(ctx context.Context, componentID uuid.UUID) ([]*Option, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+optionCols+` FROM form_component_option WHERE component_id = $1 ORDER BY sequence`, componentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOptions(rows)
}

func (r *optionRepoPG) ListByForm(ctx context.Context, formID uuid.UUID) ([]*Option, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.id, o.component_id, o.name, o.sequence, o.is_default, o.parent_id
		FROM form_component_option o
		JOIN form_component c ON c.id = o.component_id
		WHERE c.form_id = $1
		ORDER BY c.sequence, o.sequence`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOptions(rows)
}

func collectOptions(rows pgx.Rows) ([]*Option, error) {
	var items []*Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *optionRepoPG) ReplaceForComponent(ctx context.Context, componentID uuid.UUID, opts []*Option) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx, `DELETE FROM form_component_option WHERE component_id = $1`, componentID); err != nil {
		return err
	}
	for _, o := range opts {
		o.ID = uuid.New()
		o.ComponentID = componentID
		if _, err := conn.Exec(ctx, `
			INSERT INTO form_component_option (id, component_id, name, sequence, is_default, parent_id)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, o.ComponentID, o.Name, o.Sequence, o.IsDefault, o.ParentID); err != nil {
			return err
		}
	}
	return nil
}
