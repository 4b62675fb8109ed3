package lis

import (
	"context"
	"errors"
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

// =========== Endpoint Repository ===========

type endpointRepoPG struct{ pool *pgxpool.Pool }

func NewEndpointRepoPG(pool *pgxpool.Pool) EndpointRepository {
	return &endpointRepoPG{pool: pool}
}

func (r *endpointRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const endpointCols = `id, name, active, base_url, endpoint_code, auth_type,
	api_key, bearer_token, username, password, timeout_seconds, verify_ssl, notes,
	metadata_sync_time, metadata_sync_message, created_at, updated_at`

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(&e.ID, &e.Name, &e.Active, &e.BaseURL, &e.EndpointCode, &e.AuthType,
		&e.APIKey, &e.BearerToken, &e.Username, &e.Password, &e.TimeoutSeconds, &e.VerifySSL, &e.Notes,
		&e.MetadataSyncTime, &e.MetadataSyncMessage, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *endpointRepoPG) Create(ctx context.Context, e *Endpoint) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lis_endpoint (id, name, active, base_url, endpoint_code, auth_type,
			api_key, bearer_token, username, password, timeout_seconds, verify_ssl, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.Name, e.Active, e.BaseURL, e.EndpointCode, e.AuthType,
		e.APIKey, e.BearerToken, e.Username, e.Password, e.TimeoutSeconds, e.VerifySSL, e.Notes)
	return err
}

func (r *endpointRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return scanEndpoint(r.conn(ctx).QueryRow(ctx, `SELECT `+endpointCols+` FROM lis_endpoint WHERE id = $1`, id))
}

func (r *endpointRepoPG) Update(ctx context.Context, e *Endpoint) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lis_endpoint SET name=$2, active=$3, base_url=$4, endpoint_code=$5, auth_type=$6,
			api_key=$7, bearer_token=$8, username=$9, password=$10,
			timeout_seconds=$11, verify_ssl=$12, notes=$13, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Name, e.Active, e.BaseURL, e.EndpointCode, e.AuthType,
		e.APIKey, e.BearerToken, e.Username, e.Password, e.TimeoutSeconds, e.VerifySSL, e.Notes)
	return err
}

func (r *endpointRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lis_endpoint WHERE id = $1`, id)
	return err
}

func (r *endpointRepoPG) List(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lis_endpoint`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+endpointCols+` FROM lis_endpoint ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *endpointRepoPG) SetSyncResult(ctx context.Context, id uuid.UUID, at time.Time, message string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lis_endpoint SET metadata_sync_time=$2, metadata_sync_message=$3, updated_at=NOW()
		WHERE id = $1`, id, at, message)
	return err
}

// =========== MetaItem Repository ===========

type metaItemRepoPG struct{ pool *pgxpool.Pool }

func NewMetaItemRepoPG(pool *pgxpool.Pool) MetaItemRepository {
	return &metaItemRepoPG{pool: pool}
}

func (r *metaItemRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const metaItemCols = `id, endpoint_id, item_type, code, name, sample_type_code, is_default, active`

func scanMetaItem(row pgx.Row) (*MetaItem, error) {
	var m MetaItem
	err := row.Scan(&m.ID, &m.EndpointID, &m.ItemType, &m.Code, &m.Name, &m.SampleTypeCode, &m.IsDefault, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *metaItemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MetaItem, error) {
	return scanMetaItem(r.conn(ctx).QueryRow(ctx, `SELECT `+metaItemCols+` FROM lis_meta_item WHERE id = $1`, id))
}

func (r *metaItemRepoPG) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, itemType string) ([]*MetaItem, error) {
	query := `SELECT ` + metaItemCols + ` FROM lis_meta_item WHERE endpoint_id = $1`
	args := []interface{}{endpointID}
	if itemType != "" {
		query += ` AND item_type = $2`
		args = append(args, itemType)
	}
	query += ` ORDER BY item_type, code`
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MetaItem
	for rows.Next() {
		m, err := scanMetaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *metaItemRepoPG) Upsert(ctx context.Context, item *MetaItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lis_meta_item (id, endpoint_id, item_type, code, name, sample_type_code, is_default, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
		ON CONFLICT (endpoint_id, item_type, code) DO UPDATE
		SET name=EXCLUDED.name, sample_type_code=EXCLUDED.sample_type_code,
			is_default=EXCLUDED.is_default, active=TRUE`,
		item.ID, item.EndpointID, item.ItemType, item.Code, item.Name, item.SampleTypeCode, item.IsDefault)
	return err
}

func (r *metaItemRepoPG) DeactivateMissing(ctx context.Context, endpointID uuid.UUID, itemType string, seen []string) (int, error) {
	if seen == nil {
		seen = []string{}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lis_meta_item SET active=FALSE
		WHERE endpoint_id = $1 AND item_type = $2 AND active AND NOT (code = ANY($3))`,
		endpointID, itemType, seen)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Mapping Repository ===========

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const mappingCols = `id, name, active, form_id, endpoint_id,
	external_uid_component_id, patient_name_component_id, patient_identifier_component_id,
	patient_gender_component_id, patient_birthdate_component_id, patient_phone_component_id,
	physician_name_component_id, physician_ref_component_id,
	clinical_note_component_id, clinical_note_component_ids, preferred_template_component_id,
	priority_mode, priority_fixed, priority_component_id,
	created_at, updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.Name, &m.Active, &m.FormID, &m.EndpointID,
		&m.ExternalUIDComponent, &m.PatientNameComponent, &m.PatientIdentifierComponent,
		&m.PatientGenderComponent, &m.PatientBirthdateComponent, &m.PatientPhoneComponent,
		&m.PhysicianNameComponent, &m.PhysicianRefComponent,
		&m.ClinicalNoteComponent, &m.ClinicalNoteComponents, &m.PreferredTemplateComponent,
		&m.PriorityMode, &m.PriorityFixed, &m.PriorityComponent,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		m.ID = uuid.New()
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO lis_mapping (id, name, active, form_id, endpoint_id,
				external_uid_component_id, patient_name_component_id, patient_identifier_component_id,
				patient_gender_component_id, patient_birthdate_component_id, patient_phone_component_id,
				physician_name_component_id, physician_ref_component_id,
				clinical_note_component_id, clinical_note_component_ids, preferred_template_component_id,
				priority_mode, priority_fixed, priority_component_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
			m.ID, m.Name, m.Active, m.FormID, m.EndpointID,
			m.ExternalUIDComponent, m.PatientNameComponent, m.PatientIdentifierComponent,
			m.PatientGenderComponent, m.PatientBirthdateComponent, m.PatientPhoneComponent,
			m.PhysicianNameComponent, m.PhysicianRefComponent,
			m.ClinicalNoteComponent, m.ClinicalNoteComponents, m.PreferredTemplateComponent,
			m.PriorityMode, m.PriorityFixed, m.PriorityComponent); err != nil {
			return err
		}
		return r.insertChildren(ctx, m)
	})
}

func (r *mappingRepoPG) insertChildren(ctx context.Context, m *Mapping) error {
	conn := r.conn(ctx)
	for _, l := range m.Lines {
		l.ID = uuid.New()
		l.MappingID = m.ID
		if _, err := conn.Exec(ctx, `
			INSERT INTO lis_mapping_line (id, mapping_id, sequence, name, line_type,
				service_code, profile_code, service_meta_id, profile_meta_id,
				specimen_ref_mode, specimen_ref_fixed, specimen_ref_component_id,
				specimen_barcode_component_id,
				specimen_sample_type_mode, specimen_sample_type_fixed,
				specimen_sample_type_meta_id, specimen_sample_type_component_id,
				note_component_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			l.ID, l.MappingID, l.Sequence, l.Name, l.LineType,
			l.ServiceCode, l.ProfileCode, l.ServiceMeta, l.ProfileMeta,
			l.Spec.RefMode, l.Spec.RefFixed, l.Spec.RefComponent,
			l.Spec.BarcodeComponent,
			l.Spec.SampleTypeMode, l.Spec.SampleTypeFixed,
			l.Spec.SampleTypeMeta, l.Spec.SampleTypeComponent,
			l.NoteComponent); err != nil {
			return err
		}
	}
	for _, combo := range m.Combos {
		combo.ID = uuid.New()
		combo.MappingID = m.ID
		if _, err := conn.Exec(ctx, `
			INSERT INTO lis_combo (id, mapping_id, sequence, name,
				service_meta_ids, profile_meta_ids, note_component_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			combo.ID, combo.MappingID, combo.Sequence, combo.Name,
			combo.ServiceMetaIDs, combo.ProfileMetaIDs, combo.NoteComponent); err != nil {
			return err
		}
		for _, sp := range combo.Specimens {
			sp.ID = uuid.New()
			sp.ComboID = combo.ID
			if _, err := conn.Exec(ctx, `
				INSERT INTO lis_specimen (id, combo_id, sequence, name,
					specimen_ref_mode, specimen_ref_fixed, specimen_ref_component_id,
					specimen_barcode_component_id,
					specimen_sample_type_mode, specimen_sample_type_fixed,
					specimen_sample_type_meta_id, specimen_sample_type_component_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				sp.ID, sp.ComboID, sp.Sequence, sp.Name,
				sp.Spec.RefMode, sp.Spec.RefFixed, sp.Spec.RefComponent,
				sp.Spec.BarcodeComponent,
				sp.Spec.SampleTypeMode, sp.Spec.SampleTypeFixed,
				sp.Spec.SampleTypeMeta, sp.Spec.SampleTypeComponent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx, `SELECT `+mappingCols+` FROM lis_mapping WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mappingRepoPG) GetActiveByForm(ctx context.Context, formID uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM lis_mapping WHERE form_id = $1 AND active LIMIT 1`, formID))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveMapping
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

const lineCols = `id, mapping_id, sequence, name, line_type,
	service_code, profile_code, service_meta_id, profile_meta_id,
	specimen_ref_mode, specimen_ref_fixed, specimen_ref_component_id,
	specimen_barcode_component_id,
	specimen_sample_type_mode, specimen_sample_type_fixed,
	specimen_sample_type_meta_id, specimen_sample_type_component_id,
	note_component_id`

func (r *mappingRepoPG) loadChildren(ctx context.Context, m *Mapping) error {
	conn := r.conn(ctx)

	rows, err := conn.Query(ctx,
		`SELECT `+lineCols+` FROM lis_mapping_line WHERE mapping_id = $1 ORDER BY sequence`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l MappingLine
		if err := rows.Scan(&l.ID, &l.MappingID, &l.Sequence, &l.Name, &l.LineType,
			&l.ServiceCode, &l.ProfileCode, &l.ServiceMeta, &l.ProfileMeta,
			&l.Spec.RefMode, &l.Spec.RefFixed, &l.Spec.RefComponent,
			&l.Spec.BarcodeComponent,
			&l.Spec.SampleTypeMode, &l.Spec.SampleTypeFixed,
			&l.Spec.SampleTypeMeta, &l.Spec.SampleTypeComponent,
			&l.NoteComponent); err != nil {
			return err
		}
		m.Lines = append(m.Lines, &l)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	comboRows, err := conn.Query(ctx, `
		SELECT id, mapping_id, sequence, name, service_meta_ids, profile_meta_ids, note_component_id
		FROM lis_combo WHERE mapping_id = $1 ORDER BY sequence`, m.ID)
	if err != nil {
		return err
	}
	defer comboRows.Close()
	for comboRows.Next() {
		var c Combo
		if err := comboRows.Scan(&c.ID, &c.MappingID, &c.Sequence, &c.Name,
			&c.ServiceMetaIDs, &c.ProfileMetaIDs, &c.NoteComponent); err != nil {
			return err
		}
		m.Combos = append(m.Combos, &c)
	}
	if err := comboRows.Err(); err != nil {
		return err
	}

	for _, combo := range m.Combos {
		spRows, err := conn.Query(ctx, `
			SELECT id, combo_id, sequence, name,
				specimen_ref_mode, specimen_ref_fixed, specimen_ref_component_id,
				specimen_barcode_component_id,
				specimen_sample_type_mode, specimen_sample_type_fixed,
				specimen_sample_type_meta_id, specimen_sample_type_component_id
			FROM lis_specimen WHERE combo_id = $1 ORDER BY sequence`, combo.ID)
		if err != nil {
			return err
		}
		for spRows.Next() {
			var sp Specimen
			if err := spRows.Scan(&sp.ID, &sp.ComboID, &sp.Sequence, &sp.Name,
				&sp.Spec.RefMode, &sp.Spec.RefFixed, &sp.Spec.RefComponent,
				&sp.Spec.BarcodeComponent,
				&sp.Spec.SampleTypeMode, &sp.Spec.SampleTypeFixed,
				&sp.Spec.SampleTypeMeta, &sp.Spec.SampleTypeComponent); err != nil {
				spRows.Close()
				return err
			}
			combo.Specimens = append(combo.Specimens, &sp)
		}
		if err := spRows.Err(); err != nil {
			spRows.Close()
			return err
		}
		spRows.Close()
	}
	return nil
}

func (r *mappingRepoPG) Update(ctx context.Context, m *Mapping) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		conn := r.conn(ctx)
		if _, err := conn.Exec(ctx, `
			UPDATE lis_mapping SET name=$2, active=$3, form_id=$4, endpoint_id=$5,
				external_uid_component_id=$6, patient_name_component_id=$7, patient_identifier_component_id=$8,
				patient_gender_component_id=$9, patient_birthdate_component_id=$10, patient_phone_component_id=$11,
				physician_name_component_id=$12, physician_ref_component_id=$13,
				clinical_note_component_id=$14, clinical_note_component_ids=$15, preferred_template_component_id=$16,
				priority_mode=$17, priority_fixed=$18, priority_component_id=$19,
				updated_at=NOW()
			WHERE id = $1`,
			m.ID, m.Name, m.Active, m.FormID, m.EndpointID,
			m.ExternalUIDComponent, m.PatientNameComponent, m.PatientIdentifierComponent,
			m.PatientGenderComponent, m.PatientBirthdateComponent, m.PatientPhoneComponent,
			m.PhysicianNameComponent, m.PhysicianRefComponent,
			m.ClinicalNoteComponent, m.ClinicalNoteComponents, m.PreferredTemplateComponent,
			m.PriorityMode, m.PriorityFixed, m.PriorityComponent); err != nil {
			return err
		}
		// Children are replaced wholesale; specimens go with their combos.
		if _, err := conn.Exec(ctx, `DELETE FROM lis_mapping_line WHERE mapping_id = $1`, m.ID); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, `DELETE FROM lis_combo WHERE mapping_id = $1`, m.ID); err != nil {
			return err
		}
		return r.insertChildren(ctx, m)
	})
}

func (r *mappingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lis_mapping WHERE id = $1`, id)
	return err
}

func (r *mappingRepoPG) List(ctx context.Context, limit, offset int) ([]*Mapping, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lis_mapping`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM lis_mapping ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
