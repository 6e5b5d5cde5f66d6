package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cardio/cardio/internal/domain/risk"
)

// memStore is an in-memory primary store. memTx snapshots it before each
// transaction and restores the snapshot when the transaction fails.
type memStore struct {
	patients     map[int64]Patient
	measurements map[int64]MedicalMeasurement
	lifestyle    map[int64]LifestyleFactors
	diagnoses    map[int64]Diagnosis
	log          []DiagnosisLogEntry
	assessments  []RiskAssessment

	nextID int64
	clock  time.Time
	writes int

	failLogAppend bool
	readErr       error
}

func newMemStore() *memStore {
	return &memStore{
		patients:     map[int64]Patient{},
		measurements: map[int64]MedicalMeasurement{},
		lifestyle:    map[int64]LifestyleFactors{},
		diagnoses:    map[int64]Diagnosis{},
		clock:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) now() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) clone() *memStore {
	c := *s
	c.patients = make(map[int64]Patient, len(s.patients))
	for k, v := range s.patients {
		c.patients[k] = v
	}
	c.measurements = make(map[int64]MedicalMeasurement, len(s.measurements))
	for k, v := range s.measurements {
		c.measurements[k] = v
	}
	c.lifestyle = make(map[int64]LifestyleFactors, len(s.lifestyle))
	for k, v := range s.lifestyle {
		c.lifestyle[k] = v
	}
	c.diagnoses = make(map[int64]Diagnosis, len(s.diagnoses))
	for k, v := range s.diagnoses {
		c.diagnoses[k] = v
	}
	c.log = append([]DiagnosisLogEntry(nil), s.log...)
	c.assessments = append([]RiskAssessment(nil), s.assessments...)
	return &c
}

func (s *memStore) restore(snap *memStore) {
	*s = *snap
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Patients:     memPatients{s},
		Measurements: memMeasurements{s},
		Lifestyle:    memLifestyle{s},
		Diagnoses:    memDiagnoses{s},
		DiagnosisLog: memLog{s},
		Risk:         memRisk{s},
	}
}

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return nil
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type memTx struct {
	s     *memStore
	calls int
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	snap := t.s.clone()
	if err := fn(ctx); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

// -- patients --

type memPatients struct{ s *memStore }

func (r memPatients) Create(ctx context.Context, p *Patient) error {
	if _, ok := r.s.patients[p.PatientID]; ok {
		return &ConflictError{Entity: EntityPatient, ID: p.PatientID}
	}
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.patients[p.PatientID] = *p
	r.s.writes++
	return nil
}

func (r memPatients) GetByID(ctx context.Context, id int64) (*Patient, error) {
	if r.s.readErr != nil {
		return nil, r.s.readErr
	}
	p, ok := r.s.patients[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityPatient, ID: id}
	}
	return &p, nil
}

func (r memPatients) Update(ctx context.Context, p *Patient) error {
	if _, ok := r.s.patients[p.PatientID]; !ok {
		return &NotFoundError{Entity: EntityPatient, ID: p.PatientID}
	}
	p.UpdatedAt = r.s.now()
	r.s.patients[p.PatientID] = *p
	r.s.writes++
	return nil
}

func (r memPatients) Delete(ctx context.Context, id int64) error {
	if _, ok := r.s.patients[id]; !ok {
		return &NotFoundError{Entity: EntityPatient, ID: id}
	}
	delete(r.s.patients, id)
	for k, v := range r.s.measurements {
		if v.PatientID == id {
			delete(r.s.measurements, k)
		}
	}
	for k, v := range r.s.lifestyle {
		if v.PatientID == id {
			delete(r.s.lifestyle, k)
		}
	}
	for k, v := range r.s.diagnoses {
		if v.PatientID == id {
			delete(r.s.diagnoses, k)
		}
	}
	kept := r.s.assessments[:0]
	for _, a := range r.s.assessments {
		if a.PatientID != id {
			kept = append(kept, a)
		}
	}
	r.s.assessments = kept
	r.s.writes++
	return nil
}

func (r memPatients) List(ctx context.Context, skip, limit int) ([]*Patient, int, error) {
	var all []*Patient
	for _, k := range sortedKeys(r.s.patients) {
		p := r.s.patients[k]
		all = append(all, &p)
	}
	return page(all, skip, limit), len(all), nil
}

func (r memPatients) Latest(ctx context.Context) (*Patient, error) {
	var latest *Patient
	for _, k := range sortedKeys(r.s.patients) {
		p := r.s.patients[k]
		if latest == nil || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, &NotFoundError{Entity: EntityPatient}
	}
	return latest, nil
}

// -- measurements --

type memMeasurements struct{ s *memStore }

func (r memMeasurements) Create(ctx context.Context, m *MedicalMeasurement) error {
	if _, ok := r.s.patients[m.PatientID]; !ok {
		return &NotFoundError{Entity: EntityPatient, ID: m.PatientID}
	}
	m.MeasurementID = r.s.id()
	m.MeasuredAt = r.s.now()
	r.s.measurements[m.MeasurementID] = *m
	r.s.writes++
	return nil
}

func (r memMeasurements) GetByID(ctx context.Context, id int64) (*MedicalMeasurement, error) {
	m, ok := r.s.measurements[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityMeasurement, ID: id}
	}
	return &m, nil
}

func (r memMeasurements) Update(ctx context.Context, m *MedicalMeasurement) error {
	if _, ok := r.s.measurements[m.MeasurementID]; !ok {
		return &NotFoundError{Entity: EntityMeasurement, ID: m.MeasurementID}
	}
	r.s.measurements[m.MeasurementID] = *m
	r.s.writes++
	return nil
}

func (r memMeasurements) Delete(ctx context.Context, id int64) error {
	if _, ok := r.s.measurements[id]; !ok {
		return &NotFoundError{Entity: EntityMeasurement, ID: id}
	}
	delete(r.s.measurements, id)
	r.s.writes++
	return nil
}

func (r memMeasurements) List(ctx context.Context, skip, limit int) ([]*MedicalMeasurement, int, error) {
	var all []*MedicalMeasurement
	for _, k := range sortedKeys(r.s.measurements) {
		m := r.s.measurements[k]
		all = append(all, &m)
	}
	return page(all, skip, limit), len(all), nil
}

func (r memMeasurements) ListByPatient(ctx context.Context, patientID int64) ([]*MedicalMeasurement, error) {
	var out []*MedicalMeasurement
	keys := sortedKeys(r.s.measurements)
	for i := len(keys) - 1; i >= 0; i-- {
		m := r.s.measurements[keys[i]]
		if m.PatientID == patientID {
			out = append(out, &m)
		}
	}
	return out, nil
}

// -- lifestyle --

type memLifestyle struct{ s *memStore }

func (r memLifestyle) Create(ctx context.Context, l *LifestyleFactors) error {
	if _, ok := r.s.patients[l.PatientID]; !ok {
		return &NotFoundError{Entity: EntityPatient, ID: l.PatientID}
	}
	l.LifestyleID = r.s.id()
	l.RecordedAt = r.s.now()
	r.s.lifestyle[l.LifestyleID] = *l
	r.s.writes++
	return nil
}

func (r memLifestyle) GetByID(ctx context.Context, id int64) (*LifestyleFactors, error) {
	l, ok := r.s.lifestyle[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityLifestyle, ID: id}
	}
	return &l, nil
}

func (r memLifestyle) Update(ctx context.Context, l *LifestyleFactors) error {
	if _, ok := r.s.lifestyle[l.LifestyleID]; !ok {
		return &NotFoundError{Entity: EntityLifestyle, ID: l.LifestyleID}
	}
	r.s.lifestyle[l.LifestyleID] = *l
	r.s.writes++
	return nil
}

func (r memLifestyle) Delete(ctx context.Context, id int64) error {
	if _, ok := r.s.lifestyle[id]; !ok {
		return &NotFoundError{Entity: EntityLifestyle, ID: id}
	}
	delete(r.s.lifestyle, id)
	r.s.writes++
	return nil
}

func (r memLifestyle) List(ctx context.Context, skip, limit int) ([]*LifestyleFactors, int, error) {
	var all []*LifestyleFactors
	for _, k := range sortedKeys(r.s.lifestyle) {
		l := r.s.lifestyle[k]
		all = append(all, &l)
	}
	return page(all, skip, limit), len(all), nil
}

func (r memLifestyle) ListByPatient(ctx context.Context, patientID int64) ([]*LifestyleFactors, error) {
	var out []*LifestyleFactors
	keys := sortedKeys(r.s.lifestyle)
	for i := len(keys) - 1; i >= 0; i-- {
		l := r.s.lifestyle[keys[i]]
		if l.PatientID == patientID {
			out = append(out, &l)
		}
	}
	return out, nil
}

// -- diagnoses --

type memDiagnoses struct{ s *memStore }

func (r memDiagnoses) appendLog(d *Diagnosis, action string) error {
	if r.s.failLogAppend {
		return errors.New("append diagnosis log: disk full")
	}
	r.s.log = append(r.s.log, DiagnosisLogEntry{
		LogID:                 r.s.id(),
		DiagnosisID:           d.DiagnosisID,
		PatientID:             d.PatientID,
		Action:                action,
		CardiovascularDisease: d.CardiovascularDisease,
		LoggedAt:              r.s.now(),
	})
	return nil
}

func (r memDiagnoses) Create(ctx context.Context, d *Diagnosis) error {
	if _, ok := r.s.patients[d.PatientID]; !ok {
		return &NotFoundError{Entity: EntityPatient, ID: d.PatientID}
	}
	d.DiagnosisID = r.s.id()
	d.DiagnosedAt = r.s.now()
	r.s.diagnoses[d.DiagnosisID] = *d
	r.s.writes++
	return r.appendLog(d, ActionInsert)
}

func (r memDiagnoses) GetByID(ctx context.Context, id int64) (*Diagnosis, error) {
	d, ok := r.s.diagnoses[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityDiagnosis, ID: id}
	}
	return &d, nil
}

func (r memDiagnoses) Update(ctx context.Context, d *Diagnosis) error {
	if _, ok := r.s.diagnoses[d.DiagnosisID]; !ok {
		return &NotFoundError{Entity: EntityDiagnosis, ID: d.DiagnosisID}
	}
	r.s.diagnoses[d.DiagnosisID] = *d
	r.s.writes++
	return r.appendLog(d, ActionUpdate)
}

func (r memDiagnoses) Delete(ctx context.Context, id int64) error {
	if _, ok := r.s.diagnoses[id]; !ok {
		return &NotFoundError{Entity: EntityDiagnosis, ID: id}
	}
	delete(r.s.diagnoses, id)
	r.s.writes++
	return nil
}

func (r memDiagnoses) List(ctx context.Context, skip, limit int) ([]*Diagnosis, int, error) {
	var all []*Diagnosis
	for _, k := range sortedKeys(r.s.diagnoses) {
		d := r.s.diagnoses[k]
		all = append(all, &d)
	}
	return page(all, skip, limit), len(all), nil
}

func (r memDiagnoses) ListByPatient(ctx context.Context, patientID int64) ([]*Diagnosis, error) {
	var out []*Diagnosis
	keys := sortedKeys(r.s.diagnoses)
	for i := len(keys) - 1; i >= 0; i-- {
		d := r.s.diagnoses[keys[i]]
		if d.PatientID == patientID {
			out = append(out, &d)
		}
	}
	return out, nil
}

// -- diagnosis log --

type memLog struct{ s *memStore }

func (r memLog) descending() []*DiagnosisLogEntry {
	out := make([]*DiagnosisLogEntry, 0, len(r.s.log))
	for i := len(r.s.log) - 1; i >= 0; i-- {
		e := r.s.log[i]
		out = append(out, &e)
	}
	return out
}

func (r memLog) List(ctx context.Context, skip, limit int) ([]*DiagnosisLogEntry, int, error) {
	all := r.descending()
	return page(all, skip, limit), len(all), nil
}

func (r memLog) ListByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisLogEntry, error) {
	var out []*DiagnosisLogEntry
	for _, e := range r.descending() {
		if e.DiagnosisID == diagnosisID {
			out = append(out, e)
		}
	}
	return out, nil
}

// -- risk --

type memRisk struct{ s *memStore }

func (r memRisk) Profile(ctx context.Context, patientID int64) (risk.Profile, error) {
	profile := risk.Profile{PatientID: patientID}
	p, ok := r.s.patients[patientID]
	if !ok {
		return profile, nil
	}
	profile.Demographics = &risk.Demographics{AgeYears: p.AgeYears, BMI: p.BMI, Gender: p.Gender}

	var latestM *MedicalMeasurement
	for _, k := range sortedKeys(r.s.measurements) {
		m := r.s.measurements[k]
		if m.PatientID == patientID {
			latestM = &m
		}
	}
	if latestM != nil {
		profile.Measurements = &risk.Measurements{APHi: latestM.APHi, APLo: latestM.APLo, Cholesterol: latestM.Cholesterol, Glucose: latestM.Glucose}
	}

	var latestL *LifestyleFactors
	for _, k := range sortedKeys(r.s.lifestyle) {
		l := r.s.lifestyle[k]
		if l.PatientID == patientID {
			latestL = &l
		}
	}
	if latestL != nil {
		profile.Lifestyle = &risk.Lifestyle{Smoke: latestL.Smoke, Alcohol: latestL.Alcohol, PhysicalActivity: latestL.PhysicalActivity}
	}
	return profile, nil
}

func (r memRisk) Create(ctx context.Context, a *RiskAssessment) error {
	a.AssessmentID = r.s.id()
	a.AssessedAt = r.s.now()
	r.s.assessments = append(r.s.assessments, *a)
	r.s.writes++
	return nil
}

func (r memRisk) ListByPatient(ctx context.Context, patientID int64) ([]*RiskAssessment, error) {
	var out []*RiskAssessment
	for i := len(r.s.assessments) - 1; i >= 0; i-- {
		a := r.s.assessments[i]
		if a.PatientID == patientID {
			out = append(out, &a)
		}
	}
	return out, nil
}

// -- mirror --

// fakeMirror records every call. With err set it behaves like an
// unreachable secondary store.
type fakeMirror struct {
	calls []string
	err   error
}

func (m *fakeMirror) record(format string, args ...interface{}) error {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
	return m.err
}

func (m *fakeMirror) InsertPatient(ctx context.Context, p *Patient) error {
	return m.record("insert patient %d", p.PatientID)
}
func (m *fakeMirror) UpdatePatient(ctx context.Context, p *Patient) error {
	return m.record("update patient %d", p.PatientID)
}
func (m *fakeMirror) DeletePatient(ctx context.Context, id int64) error {
	return m.record("delete patient %d", id)
}
func (m *fakeMirror) InsertMeasurement(ctx context.Context, mm *MedicalMeasurement) error {
	return m.record("insert medical_measurement %d", mm.MeasurementID)
}
func (m *fakeMirror) UpdateMeasurement(ctx context.Context, mm *MedicalMeasurement) error {
	return m.record("update medical_measurement %d", mm.MeasurementID)
}
func (m *fakeMirror) DeleteMeasurement(ctx context.Context, id int64) error {
	return m.record("delete medical_measurement %d", id)
}
func (m *fakeMirror) InsertLifestyle(ctx context.Context, l *LifestyleFactors) error {
	return m.record("insert lifestyle_factors %d", l.LifestyleID)
}
func (m *fakeMirror) UpdateLifestyle(ctx context.Context, l *LifestyleFactors) error {
	return m.record("update lifestyle_factors %d", l.LifestyleID)
}
func (m *fakeMirror) DeleteLifestyle(ctx context.Context, id int64) error {
	return m.record("delete lifestyle_factors %d", id)
}
func (m *fakeMirror) InsertDiagnosis(ctx context.Context, d *Diagnosis) error {
	return m.record("insert diagnosis %d", d.DiagnosisID)
}
func (m *fakeMirror) UpdateDiagnosis(ctx context.Context, d *Diagnosis) error {
	return m.record("update diagnosis %d", d.DiagnosisID)
}
func (m *fakeMirror) DeleteDiagnosis(ctx context.Context, id int64) error {
	return m.record("delete diagnosis %d", id)
}
func (m *fakeMirror) InsertRiskAssessment(ctx context.Context, a *RiskAssessment) error {
	return m.record("insert risk_assessment %d", a.AssessmentID)
}

// -- reporter --

type observation struct {
	entity, op string
	err        error
}

type recordingReporter struct {
	primary []observation
	mirror  []observation
}

func (r *recordingReporter) ObservePrimary(entity, op string, err error) {
	r.primary = append(r.primary, observation{entity, op, err})
}

func (r *recordingReporter) ObserveMirrorWrite(entity, op string, err error) {
	r.mirror = append(r.mirror, observation{entity, op, err})
}

// -- probes --

type fakeProbe struct {
	name  string
	err   error
	stats StoreStats
}

func (p *fakeProbe) Name() string                   { return p.name }
func (p *fakeProbe) Ping(ctx context.Context) error { return p.err }
func (p *fakeProbe) Stats(ctx context.Context) (StoreStats, error) {
	if p.err != nil {
		return StoreStats{}, p.err
	}
	s := p.stats
	s.Reachable = true
	return s, nil
}
