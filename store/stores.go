// Package store implements all database operations. Queries are built with
// goqu and executed against a Querier, which is either the connection pool
// for plain reads or a scope.Session for everything that runs inside a
// transactional scope.
package store

import (
	"context"
	"math/rand"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
)

// Querier runs queries and statements. Satisfied by pgxpool.Pool and
// scope.Session.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// Mall implements all database operations.
type Mall struct {
	logger *zap.Logger
	// dialect is the SQL dialect for building queries.
	dialect goqu.DialectWrapper
}

// NewMall creates a new Mall. It uses the PostgreSQL dialect for queries.
func NewMall(logger *zap.Logger) *Mall {
	return &Mall{
		logger:  logger,
		dialect: goqu.Dialect("postgres"),
	}
}

// randomUpdateTag returns a fresh value for an update_tag column. Tags are
// random counters, not sequences: they only need to differ from the previous
// value so that clients notice the change.
func randomUpdateTag() int {
	return 1 + rand.Intn(2147483646)
}
