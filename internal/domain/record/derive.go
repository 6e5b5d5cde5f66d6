package record

import "math"

const daysPerYear = 365.25

// round2 rounds half away from zero at two decimals.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// AgeYears converts an age in days to years.
func AgeYears(ageDays int) float64 {
	return round2(float64(ageDays) / daysPerYear)
}

// BMI computes weight / height(m)^2. A non-positive height yields 0.
func BMI(heightCM int, weightKG float64) float64 {
	if heightCM <= 0 {
		return 0
	}
	m := float64(heightCM) / 100
	return round2(weightKG / (m * m))
}

// Derive recomputes AgeYears and BMI from the stored inputs.
func (p *Patient) Derive() {
	p.AgeYears = AgeYears(p.AgeDays)
	p.BMI = BMI(p.HeightCM, p.WeightKG)
}

// Empty reports whether the update names no field.
func (u PatientUpdate) Empty() bool {
	return u.AgeDays == nil && u.Gender == nil && u.HeightCM == nil && u.WeightKG == nil
}

// Merge overlays the update on existing and re-derives. The result carries
// existing's identity and timestamps.
func (u PatientUpdate) Merge(existing Patient) Patient {
	out := existing
	if u.AgeDays != nil {
		out.AgeDays = *u.AgeDays
	}
	if u.Gender != nil {
		out.Gender = *u.Gender
	}
	if u.HeightCM != nil {
		out.HeightCM = *u.HeightCM
	}
	if u.WeightKG != nil {
		out.WeightKG = *u.WeightKG
	}
	out.Derive()
	return out
}

// patientChanged compares caller-controlled fields only; derived fields
// follow from them.
func patientChanged(a, b Patient) bool {
	return a.AgeDays != b.AgeDays || a.Gender != b.Gender ||
		a.HeightCM != b.HeightCM || a.WeightKG != b.WeightKG
}

func (u MeasurementUpdate) Empty() bool {
	return u.APHi == nil && u.APLo == nil && u.Cholesterol == nil && u.Glucose == nil
}

func (u MeasurementUpdate) Merge(existing MedicalMeasurement) MedicalMeasurement {
	out := existing
	if u.APHi != nil {
		out.APHi = *u.APHi
	}
	if u.APLo != nil {
		out.APLo = *u.APLo
	}
	if u.Cholesterol != nil {
		out.Cholesterol = *u.Cholesterol
	}
	if u.Glucose != nil {
		out.Glucose = *u.Glucose
	}
	return out
}

func measurementChanged(a, b MedicalMeasurement) bool {
	return a.APHi != b.APHi || a.APLo != b.APLo ||
		a.Cholesterol != b.Cholesterol || a.Glucose != b.Glucose
}

func (u LifestyleUpdate) Empty() bool {
	return u.Smoke == nil && u.Alcohol == nil && u.PhysicalActivity == nil
}

func (u LifestyleUpdate) Merge(existing LifestyleFactors) LifestyleFactors {
	out := existing
	if u.Smoke != nil {
		out.Smoke = *u.Smoke
	}
	if u.Alcohol != nil {
		out.Alcohol = *u.Alcohol
	}
	if u.PhysicalActivity != nil {
		out.PhysicalActivity = *u.PhysicalActivity
	}
	return out
}

func lifestyleChanged(a, b LifestyleFactors) bool {
	return a.Smoke != b.Smoke || a.Alcohol != b.Alcohol || a.PhysicalActivity != b.PhysicalActivity
}

func (u DiagnosisUpdate) Empty() bool {
	return u.CardiovascularDisease == nil
}

func (u DiagnosisUpdate) Merge(existing Diagnosis) Diagnosis {
	out := existing
	if u.CardiovascularDisease != nil {
		out.CardiovascularDisease = *u.CardiovascularDisease
	}
	return out
}
