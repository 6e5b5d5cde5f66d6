package record

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardio/cardio/internal/platform/db"
)

var primaryTables = []string{"patients", "medical_measurements", "lifestyle_factors", "diagnoses", "diagnosis_log", "risk_assessments"}

// PrimaryProbe reports on the PostgreSQL system of record.
type PrimaryProbe struct {
	pool *pgxpool.Pool
}

func NewPrimaryProbe(pool *pgxpool.Pool) *PrimaryProbe {
	return &PrimaryProbe{pool: pool}
}

func (p *PrimaryProbe) Name() string { return "postgresql" }

func (p *PrimaryProbe) Ping(ctx context.Context) error {
	return db.Ping(ctx, p.pool)
}

// Stats counts rows per table and lists the indexes of the current schema.
func (p *PrimaryProbe) Stats(ctx context.Context) (StoreStats, error) {
	stats := StoreStats{Store: p.Name(), Counts: map[string]int64{}, Indexes: map[string][]string{}}

	if err := p.pool.QueryRow(ctx, `SELECT current_database()`).Scan(&stats.Database); err != nil {
		return stats, err
	}
	for _, table := range primaryTables {
		n, err := count(ctx, p.pool, table)
		if err != nil {
			return stats, err
		}
		stats.Counts[table] = int64(n)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT tablename, indexname FROM pg_indexes
		WHERE schemaname = current_schema()
		ORDER BY tablename, indexname`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var table, index string
		if err := rows.Scan(&table, &index); err != nil {
			return stats, err
		}
		stats.Indexes[table] = append(stats.Indexes[table], index)
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	stats.Reachable = true
	return stats, nil
}
