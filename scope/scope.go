// Package scope provides a reentrant transactional unit-of-work wrapper
// around a database session. Every operation that touches shared game state
// runs inside a Session scope: nested enters share one transaction and only
// the outermost exit commits. When the session saw mutations, a precommit
// hook runs before and a postcommit hook after the commit.
package scope

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/skirmishgame/skirmish-server/errors"
	"go.uber.org/zap"
)

// Tx is the subset of pgx.Tx a Session operates on.
type Tx interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB begins the transaction a Session operates on.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}

// PoolDB adapts a pgxpool.Pool as DB. Sessions created on it own their
// transaction.
type PoolDB struct {
	Pool *pgxpool.Pool
}

func (db PoolDB) Begin(ctx context.Context) (Tx, error) {
	return db.Pool.Begin(ctx)
}

// txDB adapts an externally owned pgx.Tx as DB. Begin opens a nested
// transaction (savepoint), so committing the scope does not end the outer
// transaction.
type txDB struct {
	tx pgx.Tx
}

func (db txDB) Begin(ctx context.Context) (Tx, error) {
	return db.tx.Begin(ctx)
}

// Hooks are invoked around the outermost commit of a dirty Session. They are
// skipped entirely when the session saw no mutations or when the scope failed.
type Hooks struct {
	// Precommit runs before the commit, inside the still-open transaction.
	// Typical use is bumping the version tags of marked entities. A returned
	// error aborts the commit and rolls the session back.
	Precommit func(ctx context.Context, session *Session) error
	// Postcommit runs after a successful commit, e.g. for firing change
	// signals. It must not touch the session's transaction anymore.
	Postcommit func(ctx context.Context, session *Session)
}

// Factory creates Sessions that share the same database handle and Hooks.
type Factory struct {
	logger *zap.Logger
	db     DB
	hooks  Hooks
}

// NewFactory creates a Factory for the given DB and Hooks.
func NewFactory(logger *zap.Logger, db DB, hooks Hooks) *Factory {
	return &Factory{
		logger: logger,
		db:     db,
		hooks:  hooks,
	}
}

// Session creates a new Session that owns its transaction.
func (f *Factory) Session() *Session {
	return &Session{
		logger: f.logger,
		db:     f.db,
		hooks:  f.hooks,
		ownsTx: true,
		marks:  newMarks(),
	}
}

// Borrow creates a Session on top of an externally supplied transaction. The
// scope runs as a nested transaction; committing or closing the outer one
// remains the owner's responsibility.
func (f *Factory) Borrow(tx pgx.Tx) *Session {
	return &Session{
		logger: f.logger,
		db:     txDB{tx: tx},
		hooks:  f.hooks,
		ownsTx: false,
		marks:  newMarks(),
	}
}

// marks collects the entities touched inside a scope so the Hooks know whose
// version tags to bump and which signals to fire.
type marks struct {
	users map[uuid.UUID]struct{}
	games map[uuid.UUID]struct{}
}

func newMarks() marks {
	return marks{
		users: make(map[uuid.UUID]struct{}),
		games: make(map[uuid.UUID]struct{}),
	}
}

// Session is a reentrant transactional scope. Obtain one from a Factory, then
// guard each operation with Enter and a deferred Exit:
//
//	err := session.Enter(ctx)
//	if err != nil {
//		return err
//	}
//	defer session.Exit(ctx, &err)
//
// A Session is bound to one logical request and must not be shared between
// goroutines.
type Session struct {
	logger *zap.Logger
	db     DB
	hooks  Hooks
	// ownsTx tags whether the Session owns the underlying transaction or
	// borrowed it from an external owner.
	ownsTx bool
	// tx is the active transaction. Nil outside of scopes and after abort.
	tx Tx
	// depth is the reentrancy counter. Only the exit back to 0 commits.
	depth int
	// dirty reports whether any statement executed in this scope mutated rows.
	// Set by Exec based on the reported affected rows, not by callers.
	dirty bool
	// aborted is set when the scope rolled back. Remaining exits unwind without
	// committing.
	aborted bool
	marks   marks
}

// OwnsTx reports whether the Session owns the underlying transaction.
func (s *Session) OwnsTx() bool {
	return s.ownsTx
}

// Dirty reports whether the current scope mutated tracked state.
func (s *Session) Dirty() bool {
	return s.dirty
}

// Enter opens the scope. The first enter begins the transaction and clears
// the dirty flag; nested enters only increment the reentrancy counter.
func (s *Session) Enter(ctx context.Context) error {
	if s.depth == 0 {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return errors.NewDBTxBeginError(err)
		}
		s.tx = tx
		s.dirty = false
		s.aborted = false
		s.marks = newMarks()
	}
	s.depth++
	return nil
}

// Exit closes the scope opened by the matching Enter. Call it deferred with a
// pointer to the operation's named error return. If the error is set, the
// transaction is rolled back at once and the error propagates unchanged with
// no hooks invoked. Otherwise, the exit back to depth 0 runs the precommit
// hook (if dirty), commits, and runs the postcommit hook (if dirty).
func (s *Session) Exit(ctx context.Context, errp *error) {
	s.depth--
	if s.depth < 0 {
		panic("scope: exit without matching enter")
	}
	if *errp != nil {
		s.abort(ctx, (*errp).Error())
		return
	}
	if s.depth > 0 || s.aborted {
		return
	}
	if s.dirty && s.hooks.Precommit != nil {
		err := s.hooks.Precommit(ctx, s)
		if err != nil {
			err = errors.Wrap(err, "precommit hook", nil)
			s.abort(ctx, err.Error())
			*errp = err
			return
		}
	}
	err := s.tx.Commit(ctx)
	s.tx = nil
	if err != nil {
		*errp = errors.NewDBTxCommitError(err)
		return
	}
	if s.dirty && s.hooks.Postcommit != nil {
		s.hooks.Postcommit(ctx, s)
	}
}

// abort rolls back the active transaction, if any, and poisons the session
// for all outer scopes.
func (s *Session) abort(ctx context.Context, reason string) {
	if s.aborted || s.tx == nil {
		return
	}
	s.aborted = true
	err := s.tx.Rollback(ctx)
	s.tx = nil
	if err != nil {
		errors.Log(s.logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "rollback tx",
			Details: errors.Details{"rollbackReason": reason},
		})
	}
}

// Query runs a query in the scope's transaction.
func (s *Session) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if s.tx == nil {
		return nil, errors.NewInternalError("query outside of active scope", errors.Details{"query": sql})
	}
	return s.tx.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query in the scope's transaction.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if s.tx == nil {
		panic("scope: query row outside of active scope")
	}
	return s.tx.QueryRow(ctx, sql, args...)
}

// Exec runs a statement in the scope's transaction. Statements that report
// affected rows mark the session dirty. This is how mutations are detected:
// callers never flag the session themselves.
func (s *Session) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if s.tx == nil {
		return nil, errors.NewInternalError("exec outside of active scope", errors.Details{"query": sql})
	}
	tag, err := s.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, err
	}
	if tag.RowsAffected() > 0 {
		s.dirty = true
	}
	return tag, nil
}

// MarkUser records that the user with the given id was touched in this scope.
func (s *Session) MarkUser(userID uuid.UUID) {
	s.marks.users[userID] = struct{}{}
}

// MarkGame records that visible state of the game with the given id changed
// in this scope.
func (s *Session) MarkGame(gameID uuid.UUID) {
	s.marks.games[gameID] = struct{}{}
}

// MarkedUsers returns the ids of all users marked in this scope.
func (s *Session) MarkedUsers() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.marks.users))
	for id := range s.marks.users {
		ids = append(ids, id)
	}
	return ids
}

// MarkedGames returns the ids of all games marked in this scope.
func (s *Session) MarkedGames() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.marks.games))
	for id := range s.marks.games {
		ids = append(ids, id)
	}
	return ids
}
