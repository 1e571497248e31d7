package app

import (
	"context"
	nativeerrors "errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/skirmishgame/skirmish-server/embedded"
	"github.com/skirmishgame/skirmish-server/errors"
	"go.uber.org/zap"
)

// defaultMaxDBConnections is the maximum number of database connections that
// is used when no other one is provided in the Config.
const defaultMaxDBConnections = 16

// pgUndefinedTableCode is the PostgreSQL error code for querying a table that
// does not exist. Seen when the meta table was not set up yet.
const pgUndefinedTableCode = "42P01"

// dbVersion is used for determining the current database version. This is
// saved in the meta table when properly set up. If the version does not exist,
// one can know that the database needs to be initialized. If it is and the
// latest version is greater, migrations can be performed.
type dbVersion string

// dbVersionZero is used when no database version could be found, and therefore
// we conclude that it has not been initialized yet.
const dbVersionZero dbVersion = "0"

// dbMigration is used for performing and checking database migrations. They
// lie in dbMigrations which is an ordered list of versions with their
// migrations.
type dbMigration struct {
	version dbVersion
	up      string
}

// dbMigrations are the sql migrations in an ordered (!) list. The order is
// used to determine which migrations need to be done when the current database
// version is not the latest one.
var dbMigrations = []dbMigration{
	{
		version: "1.0",
		up:      embedded.DBMigration1x0,
	},
}

// connectDB connects to the database with the given connection string,
// performs pending migrations and returns the connection pool.
func connectDB(ctx context.Context, logger *zap.Logger, connectionStr string,
	maxDBConnections int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connectionStr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "parse connection string",
		}
	}
	poolConfig.MaxConns = maxDBConnections
	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "connect to database",
		}
	}
	err = testDBConnection(ctx, pool)
	if err != nil {
		return nil, errors.Wrap(err, "test db connection", nil)
	}
	err = performDBMigrations(ctx, logger, pool)
	if err != nil {
		return nil, errors.Wrap(err, "perform db migrations", nil)
	}
	return pool, nil
}

// testDBConnection tests the database connection by simply querying 1.
func testDBConnection(ctx context.Context, pool *pgxpool.Pool) error {
	q, _, err := goqu.Select(goqu.V(1)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	var got int
	err = pool.QueryRow(ctx, q).Scan(&got)
	if err != nil {
		return errors.NewScanDBRowError(err, "test query failed", q)
	}
	// Assure that we got 1.
	if got != 1 {
		return errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Message: fmt.Sprintf("test db connection: expected 1 as result but got %d", got),
			Details: errors.Details{"got": got},
		}
	}
	return nil
}

// performDBMigrations performs all needed database migrations according to the
// (un)set database version.
func performDBMigrations(ctx context.Context, logger *zap.Logger, pool *pgxpool.Pool) error {
	currentVersion, err := retrieveCurrentDBVersion(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "retrieve current db version", nil)
	}
	logger.Info("current database version", zap.String("version", string(currentVersion)))
	migrationsToDo, err := getDBMigrationsToDo(currentVersion)
	if err != nil {
		return errors.Wrap(err, "get db migrations to do", nil)
	}
	if len(migrationsToDo) == 0 {
		return nil
	}
	// Begin tx for avoiding database destruction if something fails.
	tx, err := pool.Begin(ctx)
	if err != nil {
		return errors.NewDBTxBeginError(err)
	}
	var newVersion dbVersion
	for i, migration := range migrationsToDo {
		logger.Info(fmt.Sprintf("performing database migration %d/%d...", i+1, len(migrationsToDo)))
		_, err = tx.Exec(ctx, migration.up)
		if err != nil {
			rollbackTx(ctx, logger, tx, "database migration failed")
			return errors.NewExecQueryError(err, "exec migration", migration.up)
		}
		newVersion = migration.version
	}
	// Update database version.
	var updateDBVersionQuery string
	if currentVersion == dbVersionZero {
		updateDBVersionQuery, _, err = goqu.Dialect("postgres").Insert(goqu.T("meta")).Rows(goqu.Record{
			"key":   "db-version",
			"value": string(newVersion),
		}).ToSQL()
	} else {
		updateDBVersionQuery, _, err = goqu.Dialect("postgres").Update(goqu.T("meta")).
			Set(goqu.Record{"value": string(newVersion)}).
			Where(goqu.C("key").Eq("db-version")).ToSQL()
	}
	if err != nil {
		rollbackTx(ctx, logger, tx, "update database version query to sql failed")
		return errors.NewQueryToSQLError(err, nil)
	}
	_, err = tx.Exec(ctx, updateDBVersionQuery)
	if err != nil {
		rollbackTx(ctx, logger, tx, "update database version failed")
		return errors.NewExecQueryError(err, "update database version", updateDBVersionQuery)
	}
	err = tx.Commit(ctx)
	if err != nil {
		return errors.NewDBTxCommitError(err)
	}
	return nil
}

// rollbackTx rolls the transaction back, logging rollback failures.
func rollbackTx(ctx context.Context, logger *zap.Logger, tx pgx.Tx, reason string) {
	err := tx.Rollback(ctx)
	if err != nil {
		errors.Log(logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "rollback tx",
			Details: errors.Details{"rollbackReason": reason},
		})
	}
}

// retrieveCurrentDBVersion reads the database version from the meta table. A
// missing meta table or version entry yields dbVersionZero.
func retrieveCurrentDBVersion(ctx context.Context, pool *pgxpool.Pool) (dbVersion, error) {
	q, _, err := goqu.Dialect("postgres").From(goqu.T("meta")).
		Select(goqu.C("value")).
		Where(goqu.C("key").Eq("db-version")).ToSQL()
	if err != nil {
		return dbVersionZero, errors.NewQueryToSQLError(err, nil)
	}
	var version string
	err = pool.QueryRow(ctx, q).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if nativeerrors.As(err, &pgErr) && pgErr.Code == pgUndefinedTableCode {
			return dbVersionZero, nil
		}
		if nativeerrors.Is(err, pgx.ErrNoRows) {
			return dbVersionZero, nil
		}
		return dbVersionZero, errors.NewScanDBRowError(err, "scan database version", q)
	}
	return dbVersion(version), nil
}

// getDBMigrationsToDo retrieves all database migrations that need to be
// performed. If the version is dbVersionZero, it will return all migrations.
// If the version is unknown, an error will be returned.
func getDBMigrationsToDo(currentVersion dbVersion) ([]dbMigration, error) {
	if currentVersion == dbVersionZero {
		return dbMigrations, nil
	}
	found := false
	migrationsToDo := make([]dbMigration, 0)
	for _, migration := range dbMigrations {
		if migration.version == currentVersion {
			if found {
				return nil, errors.Error{
					Code:    errors.ErrInternal,
					Kind:    errors.KindShouldNotHappen,
					Message: fmt.Sprintf("duplicate database version %v in available migrations", currentVersion),
					Details: errors.Details{"version": currentVersion},
				}
			}
			found = true
			// Everything up to and including this version is already applied.
			continue
		}
		if found {
			migrationsToDo = append(migrationsToDo, migration)
		}
	}
	if !found {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Message: fmt.Sprintf("unknown database version %v", currentVersion),
			Details: errors.Details{"version": currentVersion},
		}
	}
	return migrationsToDo, nil
}
