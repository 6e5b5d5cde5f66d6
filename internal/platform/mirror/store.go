package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/cardio/cardio/internal/domain/record"
)

// Config holds the client-native settings of the secondary store. The
// timeouts are enforced by the driver; nothing above it retries.
type Config struct {
	URI                    string
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

// Store is the write-through mirror and read-only query layer over one
// MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

var _ record.Mirror = (*Store)(nil)
var _ record.StoreProbe = (*Store)(nil)

// Connect creates the client. The driver connects lazily, so an unreachable
// server surfaces on the first operation rather than here.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger.With().Str("store", "secondary").Logger(),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Name() string { return "mongodb" }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// indexModels are non-unique: a repeated mirror insert must not be rejected.
func indexModels() map[string][]mongo.IndexModel {
	byPatient := mongo.IndexModel{
		Keys:    bson.D{{Key: "patient_id", Value: 1}},
		Options: options.Index().SetName("patient_id_1"),
	}
	out := make(map[string][]mongo.IndexModel, len(Collections))
	for _, coll := range Collections {
		out[coll] = []mongo.IndexModel{byPatient}
	}
	out[CollDiagnoses] = append(out[CollDiagnoses], mongo.IndexModel{
		Keys:    bson.D{{Key: "diagnosis.cardiovascular_disease", Value: 1}},
		Options: options.Index().SetName("diagnosis_cardiovascular_disease_1"),
	})
	return out
}

// EnsureIndexes creates the query indexes. Failures are logged per
// collection and returned joined; the caller decides whether to continue.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	var errs []error
	models := indexModels()
	for _, coll := range Collections {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models[coll]); err != nil {
			s.logger.Warn().Err(err).Str("collection", coll).Msg("creating mirror indexes")
			errs = append(errs, fmt.Errorf("indexes on %s: %w", coll, err))
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Write-through
// ---------------------------------------------------------------------------

func (s *Store) insert(ctx context.Context, coll string, doc interface{}) error {
	if _, err := s.db.Collection(coll).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", coll, err)
	}
	return nil
}

// replace upserts so that an update reaching a document whose insert was
// lost still leaves the mirror holding the committed values.
func (s *Store) replace(ctx context.Context, coll, key string, id int64, doc interface{}) error {
	_, err := s.db.Collection(coll).ReplaceOne(ctx, bson.D{{Key: key, Value: id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace in %s: %w", coll, err)
	}
	return nil
}

func (s *Store) deleteOne(ctx context.Context, coll, key string, id int64) error {
	if _, err := s.db.Collection(coll).DeleteOne(ctx, bson.D{{Key: key, Value: id}}); err != nil {
		return fmt.Errorf("delete from %s: %w", coll, err)
	}
	return nil
}

func (s *Store) InsertPatient(ctx context.Context, p *record.Patient) error {
	return s.insert(ctx, CollPatients, NewPatientDocument(p))
}

func (s *Store) UpdatePatient(ctx context.Context, p *record.Patient) error {
	return s.replace(ctx, CollPatients, "patient_id", p.PatientID, NewPatientDocument(p))
}

// DeletePatient removes the patient and its dependents from every
// collection. Each collection is attempted even after a failure.
func (s *Store) DeletePatient(ctx context.Context, patientID int64) error {
	var errs []error
	for _, coll := range Collections {
		if _, err := s.db.Collection(coll).DeleteMany(ctx, bson.D{{Key: "patient_id", Value: patientID}}); err != nil {
			errs = append(errs, fmt.Errorf("delete from %s: %w", coll, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) InsertMeasurement(ctx context.Context, m *record.MedicalMeasurement) error {
	return s.insert(ctx, CollMeasurements, NewMeasurementDocument(m))
}

func (s *Store) UpdateMeasurement(ctx context.Context, m *record.MedicalMeasurement) error {
	return s.replace(ctx, CollMeasurements, "measurement_id", m.MeasurementID, NewMeasurementDocument(m))
}

func (s *Store) DeleteMeasurement(ctx context.Context, id int64) error {
	return s.deleteOne(ctx, CollMeasurements, "measurement_id", id)
}

func (s *Store) InsertLifestyle(ctx context.Context, l *record.LifestyleFactors) error {
	return s.insert(ctx, CollLifestyle, NewLifestyleDocument(l))
}

func (s *Store) UpdateLifestyle(ctx context.Context, l *record.LifestyleFactors) error {
	return s.replace(ctx, CollLifestyle, "lifestyle_id", l.LifestyleID, NewLifestyleDocument(l))
}

func (s *Store) DeleteLifestyle(ctx context.Context, id int64) error {
	return s.deleteOne(ctx, CollLifestyle, "lifestyle_id", id)
}

func (s *Store) InsertDiagnosis(ctx context.Context, d *record.Diagnosis) error {
	return s.insert(ctx, CollDiagnoses, NewDiagnosisDocument(d))
}

func (s *Store) UpdateDiagnosis(ctx context.Context, d *record.Diagnosis) error {
	return s.replace(ctx, CollDiagnoses, "diagnosis_id", d.DiagnosisID, NewDiagnosisDocument(d))
}

func (s *Store) DeleteDiagnosis(ctx context.Context, id int64) error {
	return s.deleteOne(ctx, CollDiagnoses, "diagnosis_id", id)
}

func (s *Store) InsertRiskAssessment(ctx context.Context, a *record.RiskAssessment) error {
	return s.insert(ctx, CollRiskAssessments, NewRiskDocument(a))
}
