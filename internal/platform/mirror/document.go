// Package mirror is the MongoDB secondary store. It receives best-effort
// write-through copies of every committed primary write, serves a read-only
// query API over the nested documents, and reports its own reachability.
package mirror

import (
	"time"

	"github.com/cardio/cardio/internal/domain/record"
)

// Collection names.
const (
	CollPatients        = "patients"
	CollMeasurements    = "medical_measurements"
	CollLifestyle       = "lifestyle_factors"
	CollDiagnoses       = "diagnoses"
	CollRiskAssessments = "risk_assessments"
)

// Collections lists every mirrored collection in a stable order.
var Collections = []string{CollPatients, CollMeasurements, CollLifestyle, CollDiagnoses, CollRiskAssessments}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

type Demographics struct {
	AgeDays  int     `json:"age_days" bson:"age_days"`
	AgeYears float64 `json:"age_years" bson:"age_years"`
	Gender   string  `json:"gender" bson:"gender"`
	HeightCM int     `json:"height_cm" bson:"height_cm"`
	WeightKG float64 `json:"weight_kg" bson:"weight_kg"`
	BMI      float64 `json:"bmi" bson:"bmi"`
}

type PatientDocument struct {
	PatientID    int64        `json:"patient_id" bson:"patient_id"`
	Demographics Demographics `json:"demographics" bson:"demographics"`
	CreatedAt    time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" bson:"updated_at"`
}

type BloodPressure struct {
	Systolic  int `json:"systolic" bson:"systolic"`
	Diastolic int `json:"diastolic" bson:"diastolic"`
}

type Measurements struct {
	BloodPressure    BloodPressure `json:"blood_pressure" bson:"blood_pressure"`
	CholesterolLevel int           `json:"cholesterol_level" bson:"cholesterol_level"`
	CholesterolLabel string        `json:"cholesterol_label" bson:"cholesterol_label"`
	GlucoseLevel     int           `json:"glucose_level" bson:"glucose_level"`
	GlucoseLabel     string        `json:"glucose_label" bson:"glucose_label"`
}

type MeasurementDocument struct {
	MeasurementID int64        `json:"measurement_id" bson:"measurement_id"`
	PatientID     int64        `json:"patient_id" bson:"patient_id"`
	Measurements  Measurements `json:"measurements" bson:"measurements"`
	RecordedAt    time.Time    `json:"recorded_at" bson:"recorded_at"`
}

type Lifestyle struct {
	Smoker             bool `json:"smoker" bson:"smoker"`
	AlcoholConsumption bool `json:"alcohol_consumption" bson:"alcohol_consumption"`
	PhysicallyActive   bool `json:"physically_active" bson:"physically_active"`
}

type LifestyleDocument struct {
	LifestyleID int64     `json:"lifestyle_id" bson:"lifestyle_id"`
	PatientID   int64     `json:"patient_id" bson:"patient_id"`
	Lifestyle   Lifestyle `json:"lifestyle" bson:"lifestyle"`
	RecordedAt  time.Time `json:"recorded_at" bson:"recorded_at"`
}

type DiagnosisDetail struct {
	CardiovascularDisease bool      `json:"cardiovascular_disease" bson:"cardiovascular_disease"`
	DiagnosisDate         time.Time `json:"diagnosis_date" bson:"diagnosis_date"`
}

type DiagnosisDocument struct {
	DiagnosisID int64           `json:"diagnosis_id" bson:"diagnosis_id"`
	PatientID   int64           `json:"patient_id" bson:"patient_id"`
	Diagnosis   DiagnosisDetail `json:"diagnosis" bson:"diagnosis"`
}

type Risk struct {
	Score int    `json:"score" bson:"score"`
	Level string `json:"level" bson:"level"`
}

type RiskDocument struct {
	AssessmentID int64     `json:"assessment_id" bson:"assessment_id"`
	PatientID    int64     `json:"patient_id" bson:"patient_id"`
	Risk         Risk      `json:"risk" bson:"risk"`
	AssessedAt   time.Time `json:"assessed_at" bson:"assessed_at"`
}

// ---------------------------------------------------------------------------
// Mapping from primary records
// ---------------------------------------------------------------------------

// GenderLabel maps the primary gender code to its mirror label.
func GenderLabel(code int) string {
	switch code {
	case 1:
		return "female"
	case 2:
		return "male"
	default:
		return "unknown"
	}
}

// LevelLabel maps a 1..3 cholesterol or glucose level to its label.
func LevelLabel(level int) string {
	switch level {
	case 1:
		return "normal"
	case 2:
		return "above_normal"
	case 3:
		return "high"
	default:
		return "unknown"
	}
}

func NewPatientDocument(p *record.Patient) PatientDocument {
	return PatientDocument{
		PatientID: p.PatientID,
		Demographics: Demographics{
			AgeDays:  p.AgeDays,
			AgeYears: p.AgeYears,
			Gender:   GenderLabel(p.Gender),
			HeightCM: p.HeightCM,
			WeightKG: p.WeightKG,
			BMI:      p.BMI,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func NewMeasurementDocument(m *record.MedicalMeasurement) MeasurementDocument {
	return MeasurementDocument{
		MeasurementID: m.MeasurementID,
		PatientID:     m.PatientID,
		Measurements: Measurements{
			BloodPressure:    BloodPressure{Systolic: m.APHi, Diastolic: m.APLo},
			CholesterolLevel: m.Cholesterol,
			CholesterolLabel: LevelLabel(m.Cholesterol),
			GlucoseLevel:     m.Glucose,
			GlucoseLabel:     LevelLabel(m.Glucose),
		},
		RecordedAt: m.MeasuredAt,
	}
}

func NewLifestyleDocument(l *record.LifestyleFactors) LifestyleDocument {
	return LifestyleDocument{
		LifestyleID: l.LifestyleID,
		PatientID:   l.PatientID,
		Lifestyle: Lifestyle{
			Smoker:             l.Smoke == 1,
			AlcoholConsumption: l.Alcohol == 1,
			PhysicallyActive:   l.PhysicalActivity == 1,
		},
		RecordedAt: l.RecordedAt,
	}
}

func NewDiagnosisDocument(d *record.Diagnosis) DiagnosisDocument {
	return DiagnosisDocument{
		DiagnosisID: d.DiagnosisID,
		PatientID:   d.PatientID,
		Diagnosis: DiagnosisDetail{
			CardiovascularDisease: d.CardiovascularDisease == 1,
			DiagnosisDate:         d.DiagnosedAt,
		},
	}
}

func NewRiskDocument(a *record.RiskAssessment) RiskDocument {
	return RiskDocument{
		AssessmentID: a.AssessmentID,
		PatientID:    a.PatientID,
		Risk:         Risk{Score: a.RiskScore, Level: string(a.RiskLevel)},
		AssessedAt:   a.AssessedAt,
	}
}
