package record

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardio/cardio/internal/domain/risk"
)

// Repositories groups the primary store adapters the Coordinator writes through.
type Repositories struct {
	Patients     PatientRepository
	Measurements MeasurementRepository
	Lifestyle    LifestyleRepository
	Diagnoses    DiagnosisRepository
	DiagnosisLog DiagnosisLogRepository
	Risk         RiskRepository
}

type Option func(*Coordinator)

// WithMirror enables write-through to the secondary store. Without it every
// operation touches the primary only.
func WithMirror(m Mirror) Option {
	return func(c *Coordinator) { c.mirror = m }
}

func WithReporter(r FaultReporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithProbes sets the stores reported by Health and Stats. secondary may be nil.
func WithProbes(primary, secondary StoreProbe) Option {
	return func(c *Coordinator) {
		c.primaryProbe = primary
		c.secondaryProbe = secondary
	}
}

// Coordinator keeps the primary and secondary stores coherent without a
// distributed transaction. The primary write commits first and alone decides
// the outcome; the mirror write follows only on success and its failures are
// reported and logged, never returned.
type Coordinator struct {
	tx             TxRunner
	repos          Repositories
	mirror         Mirror
	reporter       FaultReporter
	logger         zerolog.Logger
	primaryProbe   StoreProbe
	secondaryProbe StoreProbe
}

func NewCoordinator(tx TxRunner, repos Repositories, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:       tx,
		repos:    repos,
		reporter: nopReporter{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nopReporter struct{}

func (nopReporter) ObservePrimary(string, string, error)     {}
func (nopReporter) ObserveMirrorWrite(string, string, error) {}

// write runs fn in one primary transaction and classifies its failure.
func (c *Coordinator) write(ctx context.Context, entity, op string, fn func(ctx context.Context) error) error {
	err := classify(entity+" "+op, c.tx.InTx(ctx, fn))
	c.reporter.ObservePrimary(entity, op, err)
	return err
}

// propagate mirrors a committed primary write. The primary result is already
// final, so the caller's cancellation no longer applies.
func (c *Coordinator) propagate(ctx context.Context, entity, op string, id int64, fn func(ctx context.Context, m Mirror) error) {
	if c.mirror == nil {
		return
	}
	err := fn(context.WithoutCancel(ctx), c.mirror)
	c.reporter.ObserveMirrorWrite(entity, op, err)
	if err == nil {
		return
	}
	c.logger.Error().
		Err(&SecondaryStoreError{Entity: entity, Op: op, ID: id, Err: err}).
		Str("entity", entity).
		Str("op", op).
		Int64("id", id).
		Str("store", "secondary").
		Msg("mirror write failed; primary result kept")
}

// rmw describes a read-modify-write on one entity type.
type rmw[T any] struct {
	get      func(context.Context, int64) (*T, error)
	merge    func(T) T
	validate func(T) error
	changed  func(a, b T) bool
	save     func(context.Context, *T) error
}

// readModifyWrite reads the stored record, merges the update, re-validates
// the merged record and writes it, all in one transaction. An update that
// changes nothing performs no write and reports changed=false.
func readModifyWrite[T any](ctx context.Context, c *Coordinator, entity string, id int64, s rmw[T]) (out *T, changed bool, err error) {
	err = c.write(ctx, entity, "update", func(ctx context.Context) error {
		existing, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		merged := s.merge(*existing)
		if err := s.validate(merged); err != nil {
			return err
		}
		if !s.changed(*existing, merged) {
			out = existing
			return nil
		}
		if err := s.save(ctx, &merged); err != nil {
			return err
		}
		out, changed = &merged, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (c *Coordinator) ensurePatient(ctx context.Context, id int64) error {
	_, err := c.repos.Patients.GetByID(ctx, id)
	return err
}

// -- Patient --

// CreatePatient validates p, fills the derived fields and stores it.
func (c *Coordinator) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	if err := ValidatePatient(*p); err != nil {
		return nil, err
	}
	p.Derive()
	err := c.write(ctx, EntityPatient, "create", func(ctx context.Context) error {
		return c.repos.Patients.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	c.propagate(ctx, EntityPatient, "insert", p.PatientID, func(ctx context.Context, m Mirror) error {
		return m.InsertPatient(ctx, p)
	})
	return p, nil
}

func (c *Coordinator) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	p, err := c.repos.Patients.GetByID(ctx, id)
	return p, classify("patient get", err)
}

func (c *Coordinator) ListPatients(ctx context.Context, skip, limit int) ([]*Patient, int, error) {
	if err := ValidatePage(skip, limit); err != nil {
		return nil, 0, err
	}
	out, total, err := c.repos.Patients.List(ctx, skip, limit)
	return out, total, classify("patient list", err)
}

// LatestPatient returns the most recently created patient.
func (c *Coordinator) LatestPatient(ctx context.Context) (*Patient, error) {
	p, err := c.repos.Patients.Latest(ctx)
	return p, classify("patient latest", err)
}

// UpdatePatient merges u into the stored patient and re-derives age_years and
// bmi from the merged values.
func (c *Coordinator) UpdatePatient(ctx context.Context, id int64, u PatientUpdate) (*Patient, error) {
	if err := ValidatePatientUpdate(u); err != nil {
		return nil, err
	}
	if u.Empty() {
		return c.GetPatient(ctx, id)
	}
	p, changed, err := readModifyWrite(ctx, c, EntityPatient, id, rmw[Patient]{
		get:      c.repos.Patients.GetByID,
		merge:    u.Merge,
		validate: ValidatePatient,
		changed:  patientChanged,
		save:     c.repos.Patients.Update,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.propagate(ctx, EntityPatient, "update", id, func(ctx context.Context, m Mirror) error {
			return m.UpdatePatient(ctx, p)
		})
	}
	return p, nil
}

// DeletePatient removes the patient and, by cascade, every dependent row.
func (c *Coordinator) DeletePatient(ctx context.Context, id int64) error {
	err := c.write(ctx, EntityPatient, "delete", func(ctx context.Context) error {
		return c.repos.Patients.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	c.propagate(ctx, EntityPatient, "delete", id, func(ctx context.Context, m Mirror) error {
		return m.DeletePatient(ctx, id)
	})
	return nil
}

// -- Medical Measurement --

func (c *Coordinator) CreateMeasurement(ctx context.Context, mm *MedicalMeasurement) (*MedicalMeasurement, error) {
	if err := ValidateMeasurement(*mm); err != nil {
		return nil, err
	}
	err := c.write(ctx, EntityMeasurement, "create", func(ctx context.Context) error {
		if err := c.ensurePatient(ctx, mm.PatientID); err != nil {
			return err
		}
		return c.repos.Measurements.Create(ctx, mm)
	})
	if err != nil {
		return nil, err
	}
	c.propagate(ctx, EntityMeasurement, "insert", mm.MeasurementID, func(ctx context.Context, m Mirror) error {
		return m.InsertMeasurement(ctx, mm)
	})
	return mm, nil
}

func (c *Coordinator) GetMeasurement(ctx context.Context, id int64) (*MedicalMeasurement, error) {
	m, err := c.repos.Measurements.GetByID(ctx, id)
	return m, classify("medical_measurement get", err)
}

func (c *Coordinator) ListMeasurements(ctx context.Context, skip, limit int) ([]*MedicalMeasurement, int, error) {
	if err := ValidatePage(skip, limit); err != nil {
		return nil, 0, err
	}
	out, total, err := c.repos.Measurements.List(ctx, skip, limit)
	return out, total, classify("medical_measurement list", err)
}

// ListMeasurementsByPatient returns the patient's measurements, newest first.
func (c *Coordinator) ListMeasurementsByPatient(ctx context.Context, patientID int64) ([]*MedicalMeasurement, error) {
	if err := c.ensurePatient(ctx, patientID); err != nil {
		return nil, classify("medical_measurement list", err)
	}
	out, err := c.repos.Measurements.ListByPatient(ctx, patientID)
	return out, classify("medical_measurement list", err)
}

// UpdateMeasurement re-checks ap_lo < ap_hi on the merged values.
func (c *Coordinator) UpdateMeasurement(ctx context.Context, id int64, u MeasurementUpdate) (*MedicalMeasurement, error) {
	if err := ValidateMeasurementUpdate(u); err != nil {
		return nil, err
	}
	if u.Empty() {
		return c.GetMeasurement(ctx, id)
	}
	mm, changed, err := readModifyWrite(ctx, c, EntityMeasurement, id, rmw[MedicalMeasurement]{
		get:      c.repos.Measurements.GetByID,
		merge:    u.Merge,
		validate: ValidateMeasurement,
		changed:  measurementChanged,
		save:     c.repos.Measurements.Update,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.propagate(ctx, EntityMeasurement, "update", id, func(ctx context.Context, m Mirror) error {
			return m.UpdateMeasurement(ctx, mm)
		})
	}
	return mm, nil
}

func (c *Coordinator) DeleteMeasurement(ctx context.Context, id int64) error {
	err := c.write(ctx, EntityMeasurement, "delete", func(ctx context.Context) error {
		return c.repos.Measurements.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	c.propagate(ctx, EntityMeasurement, "delete", id, func(ctx context.Context, m Mirror) error {
		return m.DeleteMeasurement(ctx, id)
	})
	return nil
}

// -- Lifestyle Factors --

func (c *Coordinator) CreateLifestyle(ctx context.Context, l *LifestyleFactors) (*LifestyleFactors, error) {
	if err := ValidateLifestyle(*l); err != nil {
		return nil, err
	}
	err := c.write(ctx, EntityLifestyle, "create", func(ctx context.Context) error {
		if err := c.ensurePatient(ctx, l.PatientID); err != nil {
			return err
		}
		return c.repos.Lifestyle.Create(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	c.propagate(ctx, EntityLifestyle, "insert", l.LifestyleID, func(ctx context.Context, m Mirror) error {
		return m.InsertLifestyle(ctx, l)
	})
	return l, nil
}

func (c *Coordinator) GetLifestyle(ctx context.Context, id int64) (*LifestyleFactors, error) {
	l, err := c.repos.Lifestyle.GetByID(ctx, id)
	return l, classify("lifestyle_factors get", err)
}

func (c *Coordinator) ListLifestyle(ctx context.Context, skip, limit int) ([]*LifestyleFactors, int, error) {
	if err := ValidatePage(skip, limit); err != nil {
		return nil, 0, err
	}
	out, total, err := c.repos.Lifestyle.List(ctx, skip, limit)
	return out, total, classify("lifestyle_factors list", err)
}

func (c *Coordinator) ListLifestyleByPatient(ctx context.Context, patientID int64) ([]*LifestyleFactors, error) {
	if err := c.ensurePatient(ctx, patientID); err != nil {
		return nil, classify("lifestyle_factors list", err)
	}
	out, err := c.repos.Lifestyle.ListByPatient(ctx, patientID)
	return out, classify("lifestyle_factors list", err)
}

func (c *Coordinator) UpdateLifestyle(ctx context.Context, id int64, u LifestyleUpdate) (*LifestyleFactors, error) {
	if err := ValidateLifestyleUpdate(u); err != nil {
		return nil, err
	}
	if u.Empty() {
		return c.GetLifestyle(ctx, id)
	}
	l, changed, err := readModifyWrite(ctx, c, EntityLifestyle, id, rmw[LifestyleFactors]{
		get:      c.repos.Lifestyle.GetByID,
		merge:    u.Merge,
		validate: ValidateLifestyle,
		changed:  lifestyleChanged,
		save:     c.repos.Lifestyle.Update,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.propagate(ctx, EntityLifestyle, "update", id, func(ctx context.Context, m Mirror) error {
			return m.UpdateLifestyle(ctx, l)
		})
	}
	return l, nil
}

func (c *Coordinator) DeleteLifestyle(ctx context.Context, id int64) error {
	err := c.write(ctx, EntityLifestyle, "delete", func(ctx context.Context) error {
		return c.repos.Lifestyle.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	c.propagate(ctx, EntityLifestyle, "delete", id, func(ctx context.Context, m Mirror) error {
		return m.DeleteLifestyle(ctx, id)
	})
	return nil
}

// -- Diagnosis --

// CreateDiagnosis stores the diagnosis and its INSERT log entry atomically.
func (c *Coordinator) CreateDiagnosis(ctx context.Context, d *Diagnosis) (*Diagnosis, error) {
	if err := ValidateDiagnosis(*d); err != nil {
		return nil, err
	}
	err := c.write(ctx, EntityDiagnosis, "create", func(ctx context.Context) error {
		if err := c.ensurePatient(ctx, d.PatientID); err != nil {
			return err
		}
		return c.repos.Diagnoses.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	c.propagate(ctx, EntityDiagnosis, "insert", d.DiagnosisID, func(ctx context.Context, m Mirror) error {
		return m.InsertDiagnosis(ctx, d)
	})
	return d, nil
}

func (c *Coordinator) GetDiagnosis(ctx context.Context, id int64) (*Diagnosis, error) {
	d, err := c.repos.Diagnoses.GetByID(ctx, id)
	return d, classify("diagnosis get", err)
}

func (c *Coordinator) ListDiagnoses(ctx context.Context, skip, limit int) ([]*Diagnosis, int, error) {
	if err := ValidatePage(skip, limit); err != nil {
		return nil, 0, err
	}
	out, total, err := c.repos.Diagnoses.List(ctx, skip, limit)
	return out, total, classify("diagnosis list", err)
}

func (c *Coordinator) ListDiagnosesByPatient(ctx context.Context, patientID int64) ([]*Diagnosis, error) {
	if err := c.ensurePatient(ctx, patientID); err != nil {
		return nil, classify("diagnosis list", err)
	}
	out, err := c.repos.Diagnoses.ListByPatient(ctx, patientID)
	return out, classify("diagnosis list", err)
}

// UpdateDiagnosis stores the new value and its UPDATE log entry atomically.
// An update to the stored value appends nothing.
func (c *Coordinator) UpdateDiagnosis(ctx context.Context, id int64, u DiagnosisUpdate) (*Diagnosis, error) {
	if err := ValidateDiagnosisUpdate(u); err != nil {
		return nil, err
	}
	if u.Empty() {
		return c.GetDiagnosis(ctx, id)
	}
	d, changed, err := readModifyWrite(ctx, c, EntityDiagnosis, id, rmw[Diagnosis]{
		get:      c.repos.Diagnoses.GetByID,
		merge:    u.Merge,
		validate: ValidateDiagnosis,
		changed: func(a, b Diagnosis) bool {
			return a.CardiovascularDisease != b.CardiovascularDisease
		},
		save: c.repos.Diagnoses.Update,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.propagate(ctx, EntityDiagnosis, "update", id, func(ctx context.Context, m Mirror) error {
			return m.UpdateDiagnosis(ctx, d)
		})
	}
	return d, nil
}

// DeleteDiagnosis removes the diagnosis. Its log entries are kept.
func (c *Coordinator) DeleteDiagnosis(ctx context.Context, id int64) error {
	err := c.write(ctx, EntityDiagnosis, "delete", func(ctx context.Context) error {
		return c.repos.Diagnoses.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	c.propagate(ctx, EntityDiagnosis, "delete", id, func(ctx context.Context, m Mirror) error {
		return m.DeleteDiagnosis(ctx, id)
	})
	return nil
}

// -- Diagnosis Log --

// ListDiagnosisLog returns log entries newest first.
func (c *Coordinator) ListDiagnosisLog(ctx context.Context, skip, limit int) ([]*DiagnosisLogEntry, int, error) {
	if err := ValidatePage(skip, limit); err != nil {
		return nil, 0, err
	}
	out, total, err := c.repos.DiagnosisLog.List(ctx, skip, limit)
	return out, total, classify("diagnosis_log list", err)
}

// ListDiagnosisLogByDiagnosis returns the history of one diagnosis, newest
// first. Entries remain after the diagnosis itself is deleted.
func (c *Coordinator) ListDiagnosisLogByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisLogEntry, error) {
	out, err := c.repos.DiagnosisLog.ListByDiagnosis(ctx, diagnosisID)
	return out, classify("diagnosis_log list", err)
}

// -- Risk --

// Score computes the patient's risk from its latest measurement and lifestyle
// rows and appends the result to the assessment history.
func (c *Coordinator) Score(ctx context.Context, patientID int64) (*RiskAssessment, error) {
	var a *RiskAssessment
	err := c.write(ctx, EntityRiskAssessment, "create", func(ctx context.Context) error {
		profile, err := c.repos.Risk.Profile(ctx, patientID)
		if err != nil {
			return err
		}
		if profile.Demographics == nil {
			return &NotFoundError{Entity: EntityPatient, ID: patientID}
		}
		res, ok := risk.Assess(profile)
		if !ok {
			return &InsufficientDataError{PatientID: patientID, Missing: profile.Missing()}
		}
		a = &RiskAssessment{PatientID: patientID, RiskScore: res.Score, RiskLevel: res.Level}
		return c.repos.Risk.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	c.propagate(ctx, EntityRiskAssessment, "insert", a.AssessmentID, func(ctx context.Context, m Mirror) error {
		return m.InsertRiskAssessment(ctx, a)
	})
	return a, nil
}

// ListRiskAssessments returns the patient's score history, newest first.
func (c *Coordinator) ListRiskAssessments(ctx context.Context, patientID int64) ([]*RiskAssessment, error) {
	if err := c.ensurePatient(ctx, patientID); err != nil {
		return nil, classify("risk_assessment list", err)
	}
	out, err := c.repos.Risk.ListByPatient(ctx, patientID)
	return out, classify("risk_assessment list", err)
}

// -- Health & Stats --

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"

	StoreUp       = "up"
	StoreDown     = "down"
	StoreDisabled = "disabled"

	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

type StoreHealth struct {
	Store  string `json:"store"`
	Role   string `json:"role"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is healthy when both stores answer, degraded when only the
// mirror is down and unhealthy whenever the primary is down.
type HealthReport struct {
	Status    string      `json:"status"`
	Primary   StoreHealth `json:"primary"`
	Secondary StoreHealth `json:"secondary"`
	CheckedAt time.Time   `json:"checked_at"`
}

func (c *Coordinator) probe(ctx context.Context, p StoreProbe, role string) StoreHealth {
	if p == nil {
		return StoreHealth{Role: role, Status: StoreDisabled}
	}
	h := StoreHealth{Store: p.Name(), Role: role, Status: StoreUp}
	if err := p.Ping(ctx); err != nil {
		h.Status = StoreDown
		h.Error = err.Error()
	}
	return h
}

func (c *Coordinator) Health(ctx context.Context) HealthReport {
	r := HealthReport{
		Primary:   c.probe(ctx, c.primaryProbe, RolePrimary),
		Secondary: c.probe(ctx, c.secondaryProbe, RoleSecondary),
		CheckedAt: time.Now().UTC(),
	}

	switch {
	case r.Primary.Status != StoreUp:
		r.Status = HealthUnhealthy
		c.logger.Error().Str("store", r.Primary.Store).Str("error", r.Primary.Error).Msg("primary store unreachable")
	case r.Secondary.Status == StoreDown:
		r.Status = HealthDegraded
		c.logger.Warn().Str("store", r.Secondary.Store).Str("error", r.Secondary.Error).
			Msg("secondary store unreachable; mirror may drift from primary")
	default:
		r.Status = HealthHealthy
	}
	return r
}

type StatsReport struct {
	Primary   StoreStats `json:"primary"`
	Secondary StoreStats `json:"secondary"`
}

func (c *Coordinator) collect(ctx context.Context, p StoreProbe, role string) StoreStats {
	if p == nil {
		return StoreStats{Role: role, Error: StoreDisabled}
	}
	s, err := p.Stats(ctx)
	s.Store = p.Name()
	s.Role = role
	if err != nil {
		s.Reachable = false
		s.Error = err.Error()
		c.logger.Warn().Err(err).Str("store", s.Store).Str("role", role).Msg("store stats unavailable")
	}
	return s
}

// Stats reports row and document counts for each store separately.
func (c *Coordinator) Stats(ctx context.Context) StatsReport {
	return StatsReport{
		Primary:   c.collect(ctx, c.primaryProbe, RolePrimary),
		Secondary: c.collect(ctx, c.secondaryProbe, RoleSecondary),
	}
}
