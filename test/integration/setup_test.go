package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardio/cardio/internal/domain/record"
	"github.com/cardio/cardio/internal/platform/db"
	"github.com/cardio/cardio/internal/platform/mirror"
	"github.com/cardio/cardio/migrations"
)

// testEnv holds the shared store endpoints for integration tests. Either
// comes from TEST_DATABASE_URL / TEST_MONGO_URI or from a local container.
type testEnv struct {
	Admin    *pgxpool.Pool
	ConnStr  string
	MongoURI string
}

var globalEnv *testEnv

func TestMain(m *testing.M) {
	ctx := context.Background()

	env, cleanup, err := setupEnv(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
		os.Exit(0)
	}

	globalEnv = env
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupEnv(ctx context.Context) (*testEnv, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		var stop func()
		var err error
		connStr, stop, err = startPostgres(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("no TEST_DATABASE_URL and %w", err)
		}
		cleanups = append(cleanups, stop)
	}

	admin, err := pgxpool.New(ctx, connStr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	cleanups = append(cleanups, admin.Close)

	// The mirror is optional; tests that need it skip without it.
	mongoURI := os.Getenv("TEST_MONGO_URI")
	if mongoURI == "" {
		if uri, stop, err := startMongo(ctx); err == nil {
			mongoURI = uri
			cleanups = append(cleanups, stop)
		} else {
			fmt.Fprintf(os.Stderr, "mirror tests disabled: %v\n", err)
		}
	}

	return &testEnv{Admin: admin, ConnStr: connStr, MongoURI: mongoURI}, cleanup, nil
}

// uniqueName generates a unique schema or database name for test isolation.
func uniqueName(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// newSchema creates a migrated schema and a pool whose search_path points at
// it. Both are dropped when the test ends.
func newSchema(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := uniqueName("it")

	if err := db.EnsureSchema(ctx, globalEnv.Admin, schema); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := globalEnv.Admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	pool, err := db.NewPool(ctx, globalEnv.ConnStr, schema, 4, 1)
	if err != nil {
		t.Fatalf("pool for %s: %v", schema, err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	return pool
}

// newMirror connects to a fresh database on the test server, or skips the
// test when no server is available.
func newMirror(t *testing.T) *mirror.Store {
	t.Helper()
	if globalEnv.MongoURI == "" {
		t.Skip("no mongo server available")
	}
	ctx := context.Background()
	name := uniqueName("cardio_it")

	store, err := mirror.Connect(ctx, mirror.Config{
		URI:                    globalEnv.MongoURI,
		Database:               name,
		ServerSelectionTimeout: 5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect mirror: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(globalEnv.MongoURI))
		if err == nil {
			_ = client.Database(name).Drop(ctx)
			_ = client.Disconnect(ctx)
		}
		_ = store.Close(ctx)
	})
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return store
}

// recorder is a FaultReporter that keeps every observation.
type recorder struct {
	mu      sync.Mutex
	primary []string
	mirror  []string
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (r *recorder) ObservePrimary(entity, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primary = append(r.primary, entity+"."+op+":"+outcome(err))
}

func (r *recorder) ObserveMirrorWrite(entity, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = append(r.mirror, entity+"."+op+":"+outcome(err))
}

func (r *recorder) mirrorWrites() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.mirror...)
}

// newCoordinator wires the primary repositories over pool. m may be nil.
func newCoordinator(pool *pgxpool.Pool, m *mirror.Store, rep record.FaultReporter) *record.Coordinator {
	opts := []record.Option{record.WithLogger(zerolog.Nop()), record.WithReporter(rep)}
	if m != nil {
		opts = append(opts, record.WithMirror(m), record.WithProbes(record.NewPrimaryProbe(pool), m))
	} else {
		opts = append(opts, record.WithProbes(record.NewPrimaryProbe(pool), nil))
	}
	return record.NewCoordinator(db.NewTransactor(pool), record.Repositories{
		Patients:     record.NewPatientRepo(pool),
		Measurements: record.NewMeasurementRepo(pool),
		Lifestyle:    record.NewLifestyleRepo(pool),
		Diagnoses:    record.NewDiagnosisRepo(pool),
		DiagnosisLog: record.NewDiagnosisLogRepo(pool),
		Risk:         record.NewRiskRepo(pool),
	}, opts...)
}

func createPatient(t *testing.T, ctx context.Context, c *record.Coordinator, id int64) *record.Patient {
	t.Helper()
	p, err := c.CreatePatient(ctx, &record.Patient{PatientID: id, AgeDays: 21915, Gender: 2, HeightCM: 150, WeightKG: 72})
	if err != nil {
		t.Fatalf("create patient %d: %v", id, err)
	}
	return p
}

func intp(v int) *int { return &v }
