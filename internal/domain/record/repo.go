package record

import (
	"context"

	"github.com/cardio/cardio/internal/domain/risk"
)

// Primary store repositories. Lists return the page plus the total row count.

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, skip, limit int) ([]*Patient, int, error)
	Latest(ctx context.Context) (*Patient, error)
}

type MeasurementRepository interface {
	Create(ctx context.Context, m *MedicalMeasurement) error
	GetByID(ctx context.Context, id int64) (*MedicalMeasurement, error)
	Update(ctx context.Context, m *MedicalMeasurement) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, skip, limit int) ([]*MedicalMeasurement, int, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*MedicalMeasurement, error)
}

type LifestyleRepository interface {
	Create(ctx context.Context, l *LifestyleFactors) error
	GetByID(ctx context.Context, id int64) (*LifestyleFactors, error)
	Update(ctx context.Context, l *LifestyleFactors) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, skip, limit int) ([]*LifestyleFactors, int, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*LifestyleFactors, error)
}

// DiagnosisRepository appends the matching DiagnosisLogEntry inside the same
// transaction as every Create and Update. Delete appends nothing.
type DiagnosisRepository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id int64) (*Diagnosis, error)
	Update(ctx context.Context, d *Diagnosis) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, skip, limit int) ([]*Diagnosis, int, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*Diagnosis, error)
}

// DiagnosisLogRepository is read-only; entries are appended by DiagnosisRepository.
type DiagnosisLogRepository interface {
	List(ctx context.Context, skip, limit int) ([]*DiagnosisLogEntry, int, error)
	ListByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisLogEntry, error)
}

type RiskRepository interface {
	// Profile joins the patient with its most recent measurement and
	// lifestyle rows. Missing rows leave the matching part nil.
	Profile(ctx context.Context, patientID int64) (risk.Profile, error)
	Create(ctx context.Context, a *RiskAssessment) error
	ListByPatient(ctx context.Context, patientID int64) ([]*RiskAssessment, error)
}

// TxRunner scopes one primary transaction per logical operation.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mirror is the secondary store's write-through surface. Implementations
// are not idempotent: a repeated insert produces a second document.
type Mirror interface {
	InsertPatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error
	// DeletePatient removes the patient and every dependent document.
	DeletePatient(ctx context.Context, patientID int64) error

	InsertMeasurement(ctx context.Context, m *MedicalMeasurement) error
	UpdateMeasurement(ctx context.Context, m *MedicalMeasurement) error
	DeleteMeasurement(ctx context.Context, id int64) error

	InsertLifestyle(ctx context.Context, l *LifestyleFactors) error
	UpdateLifestyle(ctx context.Context, l *LifestyleFactors) error
	DeleteLifestyle(ctx context.Context, id int64) error

	InsertDiagnosis(ctx context.Context, d *Diagnosis) error
	UpdateDiagnosis(ctx context.Context, d *Diagnosis) error
	DeleteDiagnosis(ctx context.Context, id int64) error

	InsertRiskAssessment(ctx context.Context, a *RiskAssessment) error
}

// FaultReporter receives the outcome of every store attempt. A nil err is
// a success.
type FaultReporter interface {
	ObservePrimary(entity, op string, err error)
	ObserveMirrorWrite(entity, op string, err error)
}

// StoreStats summarizes one store for health and stats endpoints.
type StoreStats struct {
	Store     string              `json:"store"`
	Role      string              `json:"role"`
	Reachable bool                `json:"reachable"`
	Error     string              `json:"error,omitempty"`
	Database  string              `json:"database,omitempty"`
	Counts    map[string]int64    `json:"counts,omitempty"`
	Indexes   map[string][]string `json:"indexes,omitempty"`
}

// StoreProbe reports reachability and contents of a store.
type StoreProbe interface {
	Name() string
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (StoreStats, error)
}
