// Package risk implements the additive cardiovascular risk score computed
// from a patient's demographics, latest measurements and lifestyle factors.
package risk

// Level is the qualitative band a score falls into.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Levels lists every level in ascending order of severity.
var Levels = []Level{LevelLow, LevelModerate, LevelHigh, LevelCritical}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	for _, v := range Levels {
		if l == v {
			return true
		}
	}
	return false
}

type Demographics struct {
	AgeYears float64
	BMI      float64
	Gender   int
}

type Measurements struct {
	APHi        int
	APLo        int
	Cholesterol int
	Glucose     int
}

type Lifestyle struct {
	Smoke            int
	Alcohol          int
	PhysicalActivity int
}

// Profile is the per-patient join the score is computed from. A nil part
// means the corresponding record does not exist for the patient.
type Profile struct {
	PatientID    int64
	Demographics *Demographics
	Measurements *Measurements
	Lifestyle    *Lifestyle
}

// Complete reports whether all three parts of the join are present.
func (p Profile) Complete() bool {
	return p.Demographics != nil && p.Measurements != nil && p.Lifestyle != nil
}

// Missing returns the names of the absent parts of the join.
func (p Profile) Missing() []string {
	var missing []string
	if p.Demographics == nil {
		missing = append(missing, "patient")
	}
	if p.Measurements == nil {
		missing = append(missing, "medical_measurement")
	}
	if p.Lifestyle == nil {
		missing = append(missing, "lifestyle_factors")
	}
	return missing
}

type Result struct {
	Score int   `json:"risk_score"`
	Level Level `json:"risk_level"`
}

// Assess scores a profile. It returns false when any part of the join is
// missing; a partial profile is never scored.
func Assess(p Profile) (Result, bool) {
	if !p.Complete() {
		return Result{}, false
	}
	score := Score(*p.Demographics, *p.Measurements, *p.Lifestyle)
	return Result{Score: score, Level: LevelFor(score)}, true
}

// Score sums the contribution of every factor.
func Score(d Demographics, m Measurements, l Lifestyle) int {
	score := 0

	switch {
	case d.AgeYears > 55:
		score += 30
	case d.AgeYears > 45:
		score += 20
	case d.AgeYears > 35:
		score += 10
	}

	switch {
	case d.BMI > 30:
		score += 25
	case d.BMI > 25:
		score += 15
	}

	switch {
	case m.APHi > 140 || m.APLo > 90:
		score += 20
	case m.APHi > 130 || m.APLo > 80:
		score += 10
	}

	score += gradedPoints(m.Cholesterol)
	score += gradedPoints(m.Glucose)

	if l.Smoke == 1 {
		score += 15
	}
	if l.Alcohol == 1 {
		score += 5
	}
	if l.PhysicalActivity == 0 {
		score += 10
	}

	return score
}

// gradedPoints scores the 1..3 cholesterol and glucose scales.
func gradedPoints(v int) int {
	switch v {
	case 3:
		return 15
	case 2:
		return 10
	}
	return 0
}

// LevelFor maps a score to its band.
func LevelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelModerate
	}
	return LevelLow
}
