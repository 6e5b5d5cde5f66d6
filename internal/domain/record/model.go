package record

import (
	"time"

	"github.com/cardio/cardio/internal/domain/risk"
)

// Entity names used in errors, logs and metrics labels.
const (
	EntityPatient        = "patient"
	EntityMeasurement    = "medical_measurement"
	EntityLifestyle      = "lifestyle_factors"
	EntityDiagnosis      = "diagnosis"
	EntityDiagnosisLog   = "diagnosis_log"
	EntityRiskAssessment = "risk_assessment"
)

// Patient is keyed by a caller-assigned id. AgeYears and BMI are derived at
// write time and never accepted from the caller.
type Patient struct {
	PatientID int64     `json:"patient_id"`
	AgeDays   int       `json:"age_days"`
	AgeYears  float64   `json:"age_years"`
	Gender    int       `json:"gender"`
	HeightCM  int       `json:"height_cm"`
	WeightKG  float64   `json:"weight_kg"`
	BMI       float64   `json:"bmi"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PatientUpdate carries a partial update; nil fields keep their stored value.
type PatientUpdate struct {
	AgeDays  *int     `json:"age_days,omitempty"`
	Gender   *int     `json:"gender,omitempty"`
	HeightCM *int     `json:"height_cm,omitempty"`
	WeightKG *float64 `json:"weight_kg,omitempty"`
}

type MedicalMeasurement struct {
	MeasurementID int64     `json:"measurement_id"`
	PatientID     int64     `json:"patient_id"`
	APHi          int       `json:"ap_hi"`
	APLo          int       `json:"ap_lo"`
	Cholesterol   int       `json:"cholesterol"`
	Glucose       int       `json:"glucose"`
	MeasuredAt    time.Time `json:"measured_at"`
}

type MeasurementUpdate struct {
	APHi        *int `json:"ap_hi,omitempty"`
	APLo        *int `json:"ap_lo,omitempty"`
	Cholesterol *int `json:"cholesterol,omitempty"`
	Glucose     *int `json:"glucose,omitempty"`
}

type LifestyleFactors struct {
	LifestyleID      int64     `json:"lifestyle_id"`
	PatientID        int64     `json:"patient_id"`
	Smoke            int       `json:"smoke"`
	Alcohol          int       `json:"alcohol"`
	PhysicalActivity int       `json:"physical_activity"`
	RecordedAt       time.Time `json:"recorded_at"`
}

type LifestyleUpdate struct {
	Smoke            *int `json:"smoke,omitempty"`
	Alcohol          *int `json:"alcohol,omitempty"`
	PhysicalActivity *int `json:"physical_activity,omitempty"`
}

type Diagnosis struct {
	DiagnosisID           int64     `json:"diagnosis_id"`
	PatientID             int64     `json:"patient_id"`
	CardiovascularDisease int       `json:"cardiovascular_disease"`
	DiagnosedAt           time.Time `json:"diagnosed_at"`
}

type DiagnosisUpdate struct {
	CardiovascularDisease *int `json:"cardiovascular_disease,omitempty"`
}

// Log actions. A delete never produces an entry.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
)

// DiagnosisLogEntry is an immutable audit record; LogID gives the total order.
type DiagnosisLogEntry struct {
	LogID                 int64     `json:"log_id"`
	DiagnosisID           int64     `json:"diagnosis_id"`
	PatientID             int64     `json:"patient_id"`
	Action                string    `json:"action"`
	CardiovascularDisease int       `json:"cardiovascular_disease"`
	LoggedAt              time.Time `json:"logged_at"`
}

// RiskAssessment is one point of a patient's score history.
type RiskAssessment struct {
	AssessmentID int64      `json:"assessment_id"`
	PatientID    int64      `json:"patient_id"`
	RiskScore    int        `json:"risk_score"`
	RiskLevel    risk.Level `json:"risk_level"`
	AssessedAt   time.Time  `json:"assessed_at"`
}
