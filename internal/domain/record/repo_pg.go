package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardio/cardio/internal/domain/risk"
	"github.com/cardio/cardio/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgRepo struct {
	pool *pgxpool.Pool
}

func (r pgRepo) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// lockClause locks the row for the rest of the transaction when there is one,
// so a read-modify-write is not interleaved with a concurrent writer.
func lockClause(ctx context.Context) string {
	if db.TxFromContext(ctx) != nil {
		return " FOR UPDATE"
	}
	return ""
}

// mapErr turns driver errors into the typed errors callers branch on.
func mapErr(err error, entity string, id, patientID int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &ConflictError{Entity: entity, ID: id}
		case "23503":
			return &NotFoundError{Entity: EntityPatient, ID: patientID}
		case "23514":
			return &ValidationError{Entity: entity, Problems: []FieldError{{Field: pgErr.ConstraintName, Message: pgErr.Message}}}
		case "22003":
			return &ValidationError{Entity: entity, Problems: []FieldError{{Field: pgErr.ColumnName, Message: pgErr.Message}}}
		}
	}
	return err
}

func affectedOne(tag pgconn.CommandTag, entity string, id int64) error {
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func count(ctx context.Context, q querier, table string) (int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// -- Patient Repository --

type patientRepoPG struct{ pgRepo }

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pgRepo{pool: pool}}
}

const patientCols = `patient_id, age_days, age_years, gender, height_cm, weight_kg, bmi, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.PatientID, &p.AgeDays, &p.AgeYears, &p.Gender, &p.HeightCM, &p.WeightKG, &p.BMI, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (patient_id, age_days, age_years, gender, height_cm, weight_kg, bmi)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.PatientID, p.AgeDays, p.AgeYears, p.Gender, p.HeightCM, p.WeightKG, p.BMI,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, EntityPatient, p.PatientID, p.PatientID)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_id = $1`+lockClause(ctx), id))
	if err != nil {
		return nil, mapErr(err, EntityPatient, id, id)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET age_days = $2, age_years = $3, gender = $4, height_cm = $5,
			weight_kg = $6, bmi = $7, updated_at = NOW()
		WHERE patient_id = $1
		RETURNING updated_at`,
		p.PatientID, p.AgeDays, p.AgeYears, p.Gender, p.HeightCM, p.WeightKG, p.BMI,
	).Scan(&p.UpdatedAt)
	return mapErr(err, EntityPatient, p.PatientID, p.PatientID)
}

// Delete relies on ON DELETE CASCADE for measurements, lifestyle rows,
// diagnoses and risk assessments.
func (r *patientRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE patient_id = $1`, id)
	if err != nil {
		return mapErr(err, EntityPatient, id, id)
	}
	return affectedOne(tag, EntityPatient, id)
}

func (r *patientRepoPG) List(ctx context.Context, skip, limit int) ([]*Patient, int, error) {
	total, err := count(ctx, r.conn(ctx), "patients")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY patient_id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) Latest(ctx context.Context) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY created_at DESC, patient_id DESC LIMIT 1`))
	if err != nil {
		return nil, mapErr(err, EntityPatient, 0, 0)
	}
	return p, nil
}

// -- Medical Measurement Repository --

type measurementRepoPG struct{ pgRepo }

func NewMeasurementRepo(pool *pgxpool.Pool) MeasurementRepository {
	return &measurementRepoPG{pgRepo{pool: pool}}
}

const measurementCols = `measurement_id, patient_id, ap_hi, ap_lo, cholesterol, glucose, measured_at`

func scanMeasurement(row pgx.Row) (*MedicalMeasurement, error) {
	var m MedicalMeasurement
	if err := row.Scan(&m.MeasurementID, &m.PatientID, &m.APHi, &m.APLo, &m.Cholesterol, &m.Glucose, &m.MeasuredAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMeasurements(rows pgx.Rows) ([]*MedicalMeasurement, error) {
	defer rows.Close()
	out := []*MedicalMeasurement{}
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *measurementRepoPG) Create(ctx context.Context, m *MedicalMeasurement) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_measurements (patient_id, ap_hi, ap_lo, cholesterol, glucose)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING measurement_id, measured_at`,
		m.PatientID, m.APHi, m.APLo, m.Cholesterol, m.Glucose,
	).Scan(&m.MeasurementID, &m.MeasuredAt)
	return mapErr(err, EntityMeasurement, m.MeasurementID, m.PatientID)
}

func (r *measurementRepoPG) GetByID(ctx context.Context, id int64) (*MedicalMeasurement, error) {
	m, err := scanMeasurement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+measurementCols+` FROM medical_measurements WHERE measurement_id = $1`+lockClause(ctx), id))
	if err != nil {
		return nil, mapErr(err, EntityMeasurement, id, 0)
	}
	return m, nil
}

func (r *measurementRepoPG) Update(ctx context.Context, m *MedicalMeasurement) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_measurements SET ap_hi = $2, ap_lo = $3, cholesterol = $4, glucose = $5
		WHERE measurement_id = $1`,
		m.MeasurementID, m.APHi, m.APLo, m.Cholesterol, m.Glucose)
	if err != nil {
		return mapErr(err, EntityMeasurement, m.MeasurementID, m.PatientID)
	}
	return affectedOne(tag, EntityMeasurement, m.MeasurementID)
}

func (r *measurementRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_measurements WHERE measurement_id = $1`, id)
	if err != nil {
		return mapErr(err, EntityMeasurement, id, 0)
	}
	return affectedOne(tag, EntityMeasurement, id)
}

func (r *measurementRepoPG) List(ctx context.Context, skip, limit int) ([]*MedicalMeasurement, int, error) {
	total, err := count(ctx, r.conn(ctx), "medical_measurements")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+measurementCols+` FROM medical_measurements ORDER BY measurement_id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectMeasurements(rows)
	return out, total, err
}

func (r *measurementRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*MedicalMeasurement, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+measurementCols+` FROM medical_measurements
		WHERE patient_id = $1 ORDER BY measured_at DESC, measurement_id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectMeasurements(rows)
}

// -- Lifestyle Repository --

type lifestyleRepoPG struct{ pgRepo }

func NewLifestyleRepo(pool *pgxpool.Pool) LifestyleRepository {
	return &lifestyleRepoPG{pgRepo{pool: pool}}
}

const lifestyleCols = `lifestyle_id, patient_id, smoke, alcohol, physical_activity, recorded_at`

func scanLifestyle(row pgx.Row) (*LifestyleFactors, error) {
	var l LifestyleFactors
	if err := row.Scan(&l.LifestyleID, &l.PatientID, &l.Smoke, &l.Alcohol, &l.PhysicalActivity, &l.RecordedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLifestyle(rows pgx.Rows) ([]*LifestyleFactors, error) {
	defer rows.Close()
	out := []*LifestyleFactors{}
	for rows.Next() {
		l, err := scanLifestyle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *lifestyleRepoPG) Create(ctx context.Context, l *LifestyleFactors) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lifestyle_factors (patient_id, smoke, alcohol, physical_activity)
		VALUES ($1, $2, $3, $4)
		RETURNING lifestyle_id, recorded_at`,
		l.PatientID, l.Smoke, l.Alcohol, l.PhysicalActivity,
	).Scan(&l.LifestyleID, &l.RecordedAt)
	return mapErr(err, EntityLifestyle, l.LifestyleID, l.PatientID)
}

func (r *lifestyleRepoPG) GetByID(ctx context.Context, id int64) (*LifestyleFactors, error) {
	l, err := scanLifestyle(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lifestyleCols+` FROM lifestyle_factors WHERE lifestyle_id = $1`+lockClause(ctx), id))
	if err != nil {
		return nil, mapErr(err, EntityLifestyle, id, 0)
	}
	return l, nil
}

func (r *lifestyleRepoPG) Update(ctx context.Context, l *LifestyleFactors) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lifestyle_factors SET smoke = $2, alcohol = $3, physical_activity = $4
		WHERE lifestyle_id = $1`,
		l.LifestyleID, l.Smoke, l.Alcohol, l.PhysicalActivity)
	if err != nil {
		return mapErr(err, EntityLifestyle, l.LifestyleID, l.PatientID)
	}
	return affectedOne(tag, EntityLifestyle, l.LifestyleID)
}

func (r *lifestyleRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lifestyle_factors WHERE lifestyle_id = $1`, id)
	if err != nil {
		return mapErr(err, EntityLifestyle, id, 0)
	}
	return affectedOne(tag, EntityLifestyle, id)
}

func (r *lifestyleRepoPG) List(ctx context.Context, skip, limit int) ([]*LifestyleFactors, int, error) {
	total, err := count(ctx, r.conn(ctx), "lifestyle_factors")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lifestyleCols+` FROM lifestyle_factors ORDER BY lifestyle_id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectLifestyle(rows)
	return out, total, err
}

func (r *lifestyleRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*LifestyleFactors, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+lifestyleCols+` FROM lifestyle_factors
		WHERE patient_id = $1 ORDER BY recorded_at DESC, lifestyle_id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectLifestyle(rows)
}

// -- Diagnosis Repository --

type diagnosisRepoPG struct{ pgRepo }

func NewDiagnosisRepo(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pgRepo{pool: pool}}
}

const diagnosisCols = `diagnosis_id, patient_id, cardiovascular_disease, diagnosed_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	if err := row.Scan(&d.DiagnosisID, &d.PatientID, &d.CardiovascularDisease, &d.DiagnosedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDiagnoses(rows pgx.Rows) ([]*Diagnosis, error) {
	defer rows.Close()
	out := []*Diagnosis{}
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// appendLog writes the audit row for a diagnosis write. It must run on the
// same transaction as that write; the deferred constraint trigger on
// diagnoses rejects the commit otherwise.
func appendLog(ctx context.Context, q querier, d *Diagnosis, action string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO diagnosis_log (diagnosis_id, patient_id, action, cardiovascular_disease)
		VALUES ($1, $2, $3, $4)`,
		d.DiagnosisID, d.PatientID, action, d.CardiovascularDisease)
	if err != nil {
		return fmt.Errorf("append diagnosis log: %w", err)
	}
	return nil
}

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			INSERT INTO diagnoses (patient_id, cardiovascular_disease)
			VALUES ($1, $2)
			RETURNING diagnosis_id, diagnosed_at`,
			d.PatientID, d.CardiovascularDisease,
		).Scan(&d.DiagnosisID, &d.DiagnosedAt)
		if err != nil {
			return mapErr(err, EntityDiagnosis, 0, d.PatientID)
		}
		return appendLog(ctx, q, d, ActionInsert)
	})
}

func (r *diagnosisRepoPG) GetByID(ctx context.Context, id int64) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+diagnosisCols+` FROM diagnoses WHERE diagnosis_id = $1`+lockClause(ctx), id))
	if err != nil {
		return nil, mapErr(err, EntityDiagnosis, id, 0)
	}
	return d, nil
}

func (r *diagnosisRepoPG) Update(ctx context.Context, d *Diagnosis) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			UPDATE diagnoses SET cardiovascular_disease = $2
			WHERE diagnosis_id = $1
			RETURNING patient_id, diagnosed_at`,
			d.DiagnosisID, d.CardiovascularDisease,
		).Scan(&d.PatientID, &d.DiagnosedAt)
		if err != nil {
			return mapErr(err, EntityDiagnosis, d.DiagnosisID, d.PatientID)
		}
		return appendLog(ctx, q, d, ActionUpdate)
	})
}

func (r *diagnosisRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM diagnoses WHERE diagnosis_id = $1`, id)
	if err != nil {
		return mapErr(err, EntityDiagnosis, id, 0)
	}
	return affectedOne(tag, EntityDiagnosis, id)
}

func (r *diagnosisRepoPG) List(ctx context.Context, skip, limit int) ([]*Diagnosis, int, error) {
	total, err := count(ctx, r.conn(ctx), "diagnoses")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagnosisCols+` FROM diagnoses ORDER BY diagnosis_id LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectDiagnoses(rows)
	return out, total, err
}

func (r *diagnosisRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagnosisCols+` FROM diagnoses
		WHERE patient_id = $1 ORDER BY diagnosed_at DESC, diagnosis_id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectDiagnoses(rows)
}

// -- Diagnosis Log Repository --

type diagnosisLogRepoPG struct{ pgRepo }

func NewDiagnosisLogRepo(pool *pgxpool.Pool) DiagnosisLogRepository {
	return &diagnosisLogRepoPG{pgRepo{pool: pool}}
}

const diagnosisLogCols = `log_id, diagnosis_id, patient_id, action, cardiovascular_disease, logged_at`

func collectLog(rows pgx.Rows) ([]*DiagnosisLogEntry, error) {
	defer rows.Close()
	out := []*DiagnosisLogEntry{}
	for rows.Next() {
		var e DiagnosisLogEntry
		if err := rows.Scan(&e.LogID, &e.DiagnosisID, &e.PatientID, &e.Action, &e.CardiovascularDisease, &e.LoggedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *diagnosisLogRepoPG) List(ctx context.Context, skip, limit int) ([]*DiagnosisLogEntry, int, error) {
	total, err := count(ctx, r.conn(ctx), "diagnosis_log")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagnosisLogCols+` FROM diagnosis_log ORDER BY log_id DESC LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectLog(rows)
	return out, total, err
}

func (r *diagnosisLogRepoPG) ListByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisLogEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagnosisLogCols+` FROM diagnosis_log
		WHERE diagnosis_id = $1 ORDER BY log_id DESC`, diagnosisID)
	if err != nil {
		return nil, err
	}
	return collectLog(rows)
}

// -- Risk Repository --

type riskRepoPG struct{ pgRepo }

func NewRiskRepo(pool *pgxpool.Pool) RiskRepository {
	return &riskRepoPG{pgRepo{pool: pool}}
}

func (r *riskRepoPG) Profile(ctx context.Context, patientID int64) (risk.Profile, error) {
	var (
		d                      risk.Demographics
		apHi, apLo, chol, gluc *int
		smoke, alcohol, active *int
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.age_years, p.bmi, p.gender,
			m.ap_hi, m.ap_lo, m.cholesterol, m.glucose,
			l.smoke, l.alcohol, l.physical_activity
		FROM patients p
		LEFT JOIN LATERAL (
			SELECT ap_hi, ap_lo, cholesterol, glucose FROM medical_measurements
			WHERE patient_id = p.patient_id
			ORDER BY measured_at DESC, measurement_id DESC LIMIT 1
		) m ON TRUE
		LEFT JOIN LATERAL (
			SELECT smoke, alcohol, physical_activity FROM lifestyle_factors
			WHERE patient_id = p.patient_id
			ORDER BY recorded_at DESC, lifestyle_id DESC LIMIT 1
		) l ON TRUE
		WHERE p.patient_id = $1`, patientID,
	).Scan(&d.AgeYears, &d.BMI, &d.Gender, &apHi, &apLo, &chol, &gluc, &smoke, &alcohol, &active)

	profile := risk.Profile{PatientID: patientID}
	if errors.Is(err, pgx.ErrNoRows) {
		return profile, nil
	}
	if err != nil {
		return profile, err
	}

	profile.Demographics = &d
	if apHi != nil && apLo != nil && chol != nil && gluc != nil {
		profile.Measurements = &risk.Measurements{APHi: *apHi, APLo: *apLo, Cholesterol: *chol, Glucose: *gluc}
	}
	if smoke != nil && alcohol != nil && active != nil {
		profile.Lifestyle = &risk.Lifestyle{Smoke: *smoke, Alcohol: *alcohol, PhysicalActivity: *active}
	}
	return profile, nil
}

func (r *riskRepoPG) Create(ctx context.Context, a *RiskAssessment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO risk_assessments (patient_id, risk_score, risk_level)
		VALUES ($1, $2, $3)
		RETURNING assessment_id, assessed_at`,
		a.PatientID, a.RiskScore, string(a.RiskLevel),
	).Scan(&a.AssessmentID, &a.AssessedAt)
	return mapErr(err, EntityRiskAssessment, 0, a.PatientID)
}

func (r *riskRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*RiskAssessment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT assessment_id, patient_id, risk_score, risk_level, assessed_at
		FROM risk_assessments WHERE patient_id = $1
		ORDER BY assessed_at DESC, assessment_id DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*RiskAssessment{}
	for rows.Next() {
		var a RiskAssessment
		var level string
		if err := rows.Scan(&a.AssessmentID, &a.PatientID, &a.RiskScore, &level, &a.AssessedAt); err != nil {
			return nil, err
		}
		a.RiskLevel = risk.Level(level)
		out = append(out, &a)
	}
	return out, rows.Err()
}
