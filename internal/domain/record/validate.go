package record

import "fmt"

// Accepted ranges.
const (
	MaxHeightCM = 250
	MaxWeightKG = 300.0

	MinAPHi = 70
	MaxAPHi = 250
	MinAPLo = 40
	MaxAPLo = 150
)

type checker struct {
	entity   string
	problems []FieldError
}

func newChecker(entity string) *checker {
	return &checker{entity: entity}
}

func (c *checker) add(field, format string, args ...interface{}) {
	c.problems = append(c.problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) between(field string, v, lo, hi int) {
	if v < lo || v > hi {
		c.add(field, "must be between %d and %d, got %d", lo, hi, v)
	}
}

func (c *checker) positiveID(field string, v int64) {
	if v <= 0 {
		c.add(field, "must be a positive integer, got %d", v)
	}
}

func (c *checker) flag(field string, v int) {
	c.between(field, v, 0, 1)
}

func (c *checker) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{Entity: c.entity, Problems: c.problems}
}

func (c *checker) patientFields(ageDays, gender, heightCM *int, weightKG *float64) {
	if ageDays != nil && *ageDays <= 0 {
		c.add("age_days", "must be greater than 0, got %d", *ageDays)
	}
	if gender != nil {
		c.between("gender", *gender, 1, 2)
	}
	if heightCM != nil && (*heightCM <= 0 || *heightCM > MaxHeightCM) {
		c.add("height_cm", "must be in (0, %d], got %d", MaxHeightCM, *heightCM)
	}
	if weightKG != nil && (*weightKG <= 0 || *weightKG > MaxWeightKG) {
		c.add("weight_kg", "must be in (0, %g], got %g", MaxWeightKG, *weightKG)
	}
}

func (c *checker) measurementFields(apHi, apLo, cholesterol, glucose *int) {
	if apHi != nil {
		c.between("ap_hi", *apHi, MinAPHi, MaxAPHi)
	}
	if apLo != nil {
		c.between("ap_lo", *apLo, MinAPLo, MaxAPLo)
	}
	if apHi != nil && apLo != nil && *apLo >= *apHi {
		c.add("ap_lo", "must be lower than ap_hi (%d), got %d", *apHi, *apLo)
	}
	if cholesterol != nil {
		c.between("cholesterol", *cholesterol, 1, 3)
	}
	if glucose != nil {
		c.between("glucose", *glucose, 1, 3)
	}
}

func (c *checker) lifestyleFields(smoke, alcohol, active *int) {
	if smoke != nil {
		c.flag("smoke", *smoke)
	}
	if alcohol != nil {
		c.flag("alcohol", *alcohol)
	}
	if active != nil {
		c.flag("physical_activity", *active)
	}
}

func ValidatePatient(p Patient) error {
	c := newChecker(EntityPatient)
	c.positiveID("patient_id", p.PatientID)
	c.patientFields(&p.AgeDays, &p.Gender, &p.HeightCM, &p.WeightKG)
	return c.err()
}

// ValidatePatientUpdate checks only the fields present in u.
func ValidatePatientUpdate(u PatientUpdate) error {
	c := newChecker(EntityPatient)
	c.patientFields(u.AgeDays, u.Gender, u.HeightCM, u.WeightKG)
	return c.err()
}

func ValidateMeasurement(m MedicalMeasurement) error {
	c := newChecker(EntityMeasurement)
	c.positiveID("patient_id", m.PatientID)
	c.measurementFields(&m.APHi, &m.APLo, &m.Cholesterol, &m.Glucose)
	return c.err()
}

// ValidateMeasurementUpdate checks the fields present in u. The ap_lo < ap_hi
// rule is only decidable here when both are present; the coordinator checks
// it again on the merged record.
func ValidateMeasurementUpdate(u MeasurementUpdate) error {
	c := newChecker(EntityMeasurement)
	c.measurementFields(u.APHi, u.APLo, u.Cholesterol, u.Glucose)
	return c.err()
}

func ValidateLifestyle(l LifestyleFactors) error {
	c := newChecker(EntityLifestyle)
	c.positiveID("patient_id", l.PatientID)
	c.lifestyleFields(&l.Smoke, &l.Alcohol, &l.PhysicalActivity)
	return c.err()
}

func ValidateLifestyleUpdate(u LifestyleUpdate) error {
	c := newChecker(EntityLifestyle)
	c.lifestyleFields(u.Smoke, u.Alcohol, u.PhysicalActivity)
	return c.err()
}

func ValidateDiagnosis(d Diagnosis) error {
	c := newChecker(EntityDiagnosis)
	c.positiveID("patient_id", d.PatientID)
	c.flag("cardiovascular_disease", d.CardiovascularDisease)
	return c.err()
}

func ValidateDiagnosisUpdate(u DiagnosisUpdate) error {
	c := newChecker(EntityDiagnosis)
	if u.CardiovascularDisease != nil {
		c.flag("cardiovascular_disease", *u.CardiovascularDisease)
	}
	return c.err()
}

// ValidatePage rejects negative offsets and non-positive limits.
func ValidatePage(skip, limit int) error {
	c := newChecker("page")
	if skip < 0 {
		c.add("skip", "must not be negative, got %d", skip)
	}
	if limit <= 0 {
		c.add("limit", "must be positive, got %d", limit)
	}
	return c.err()
}
