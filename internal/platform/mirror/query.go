package mirror

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardio/cardio/internal/domain/record"
)

// Reader is the read-only surface served over HTTP. Nothing here writes, so
// every mirror write goes through the coordinator.
type Reader interface {
	ListPatients(ctx context.Context, skip, limit int) ([]PatientDocument, int64)
	GetPatient(ctx context.Context, patientID int64) (*PatientDocument, error)
	ListMeasurements(ctx context.Context, skip, limit int) ([]MeasurementDocument, int64)
	DiagnosesByDisease(ctx context.Context, hasDisease bool, skip, limit int) ([]DiagnosisDocument, int64)
	DiseaseCounts(ctx context.Context) DiseaseCounts
	Stats(ctx context.Context) (record.StoreStats, error)
	Health(ctx context.Context) HealthReport
}

var _ Reader = (*Store)(nil)

type DiseaseCounts struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
}

type HealthReport struct {
	Status      string    `json:"status"`
	Reachable   bool      `json:"reachable"`
	Database    string    `json:"database"`
	Collections []string  `json:"collections"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

func pageOptions(skip, limit int, sortKey string) *options.FindOptions {
	return options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: sortKey, Value: 1}})
}

func diseaseFilter(hasDisease bool) bson.D {
	return bson.D{{Key: "diagnosis.cardiovascular_disease", Value: hasDisease}}
}

// findPage decodes one page of coll. On any failure it logs and returns an
// empty page so that a mirror outage never fails a read.
func findPage[T any](ctx context.Context, s *Store, coll string, filter bson.D, opts *options.FindOptions) ([]T, int64) {
	out := []T{}
	c := s.db.Collection(coll)

	total, err := c.CountDocuments(ctx, filter)
	if err != nil {
		s.warnRead(err, coll)
		return out, 0
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		s.warnRead(err, coll)
		return out, 0
	}
	if err := cur.All(ctx, &out); err != nil {
		s.warnRead(err, coll)
		return []T{}, 0
	}
	return out, total
}

func (s *Store) warnRead(err error, coll string) {
	s.logger.Warn().Err(err).Str("collection", coll).Msg("mirror read failed; returning empty result")
}

func (s *Store) ListPatients(ctx context.Context, skip, limit int) ([]PatientDocument, int64) {
	return findPage[PatientDocument](ctx, s, CollPatients, bson.D{}, pageOptions(skip, limit, "patient_id"))
}

// GetPatient reports an unreachable mirror the same way as a missing
// document.
func (s *Store) GetPatient(ctx context.Context, patientID int64) (*PatientDocument, error) {
	var doc PatientDocument
	err := s.db.Collection(CollPatients).FindOne(ctx, bson.D{{Key: "patient_id", Value: patientID}}).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			s.warnRead(err, CollPatients)
		}
		return nil, &record.NotFoundError{Entity: record.EntityPatient, ID: patientID}
	}
	return &doc, nil
}

func (s *Store) ListMeasurements(ctx context.Context, skip, limit int) ([]MeasurementDocument, int64) {
	return findPage[MeasurementDocument](ctx, s, CollMeasurements, bson.D{}, pageOptions(skip, limit, "measurement_id"))
}

func (s *Store) DiagnosesByDisease(ctx context.Context, hasDisease bool, skip, limit int) ([]DiagnosisDocument, int64) {
	return findPage[DiagnosisDocument](ctx, s, CollDiagnoses, diseaseFilter(hasDisease), pageOptions(skip, limit, "diagnosis_id"))
}

func (s *Store) DiseaseCounts(ctx context.Context) DiseaseCounts {
	var counts DiseaseCounts
	c := s.db.Collection(CollDiagnoses)
	pos, err := c.CountDocuments(ctx, diseaseFilter(true))
	if err != nil {
		s.warnRead(err, CollDiagnoses)
		return counts
	}
	neg, err := c.CountDocuments(ctx, diseaseFilter(false))
	if err != nil {
		s.warnRead(err, CollDiagnoses)
		return counts
	}
	counts.Positive, counts.Negative = pos, neg
	return counts
}

// Stats counts documents and lists index names per collection.
func (s *Store) Stats(ctx context.Context) (record.StoreStats, error) {
	stats := record.StoreStats{
		Store:    s.Name(),
		Database: s.db.Name(),
		Counts:   map[string]int64{},
		Indexes:  map[string][]string{},
	}
	for _, coll := range Collections {
		c := s.db.Collection(coll)
		n, err := c.CountDocuments(ctx, bson.D{})
		if err != nil {
			return stats, err
		}
		stats.Counts[coll] = n

		names, err := indexNames(ctx, c)
		if err != nil {
			return stats, err
		}
		stats.Indexes[coll] = names
	}
	stats.Reachable = true
	return stats, nil
}

func indexNames(ctx context.Context, c *mongo.Collection) ([]string, error) {
	cur, err := c.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []struct {
		Name string `bson:"name"`
	}
	if err := cur.All(ctx, &specs); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names, nil
}

func (s *Store) Health(ctx context.Context) HealthReport {
	r := HealthReport{Status: record.StoreDown, Database: s.db.Name(), Collections: []string{}, CheckedAt: time.Now().UTC()}
	if err := s.Ping(ctx); err != nil {
		r.Error = err.Error()
		s.logger.Warn().Err(err).Msg("secondary store unreachable")
		return r
	}
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Status, r.Reachable, r.Collections = record.StoreUp, true, names
	return r
}
