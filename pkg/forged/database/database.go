package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/appforge/forge/pkg/forged/metrics"
)

var ErrNotFound = fmt.Errorf("database row not found")

func IsErrNotFound(err error) bool {
	return err == ErrNotFound
}

type Database struct {
	conn *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Database, error) {
	conn, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	return &Database{conn: conn}, nil
}

// Reads and writes go through these wrappers so that query timings reach
// the metrics endpoint.

func (db *Database) timedQuery(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	now := time.Now()
	rows, err := db.conn.Query(ctx, sql, args...)
	metrics.DatabaseQuery(now, err)
	return rows, err
}

func (db *Database) timedExec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	now := time.Now()
	tag, err := db.conn.Exec(ctx, sql, args...)
	metrics.DatabaseQuery(now, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Migrate applies all schema migrations that have not run yet.
func (db *Database) Migrate(ctx context.Context) error {
	version, err := db.schemaVersion(ctx)
	if err != nil {
		// the migrations table itself might not exist yet.
		// no way to tell this apart from real errors, so log and start from zero.
		log.Warnf("unable to get current migration version: %s", err)
		version = 0
	}

	for version < len(migrations) {
		log.Infof("migrating database schema to version %d", version+1)

		_, err = db.conn.Exec(ctx, migrations[version])
		if err != nil {
			return fmt.Errorf("migrating to version %d: %s", version+1, err)
		}

		version++
	}

	return nil
}

func (db *Database) schemaVersion(ctx context.Context) (int, error) {
	var version int
	row := db.conn.QueryRow(ctx, `SELECT MAX(version) FROM migrations`)
	err := row.Scan(&version)
	return version, err
}
