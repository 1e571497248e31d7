package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// txMock mocks Tx.
type txMock struct {
	mock.Mock
}

func (tx *txMock) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	called := tx.Called(ctx, sql, args)
	rows, _ := called.Get(0).(pgx.Rows)
	return rows, called.Error(1)
}

func (tx *txMock) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	called := tx.Called(ctx, sql, args)
	row, _ := called.Get(0).(pgx.Row)
	return row
}

func (tx *txMock) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	called := tx.Called(ctx, sql, arguments)
	tag, _ := called.Get(0).(pgconn.CommandTag)
	return tag, called.Error(1)
}

func (tx *txMock) Commit(ctx context.Context) error {
	return tx.Called(ctx).Error(0)
}

func (tx *txMock) Rollback(ctx context.Context) error {
	return tx.Called(ctx).Error(0)
}

// dbMock mocks DB.
type dbMock struct {
	mock.Mock
}

func (db *dbMock) Begin(ctx context.Context) (Tx, error) {
	called := db.Called(ctx)
	tx, _ := called.Get(0).(Tx)
	return tx, called.Error(1)
}

// sessionSuite tests Session.
type sessionSuite struct {
	suite.Suite
	db    *dbMock
	tx    *txMock
	calls []string
}

func (suite *sessionSuite) SetupTest() {
	suite.db = &dbMock{}
	suite.tx = &txMock{}
	suite.calls = nil
}

func (suite *sessionSuite) factory(hooks Hooks) *Factory {
	return NewFactory(zap.New(zapcore.NewNopCore()), suite.db, hooks)
}

// recordingHooks records hook invocations in suite.calls.
func (suite *sessionSuite) recordingHooks() Hooks {
	return Hooks{
		Precommit: func(ctx context.Context, session *Session) error {
			suite.calls = append(suite.calls, "precommit")
			return nil
		},
		Postcommit: func(ctx context.Context, session *Session) {
			suite.calls = append(suite.calls, "postcommit")
		},
	}
}

func (suite *sessionSuite) TestCleanScopeCommitsWithoutHooks() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Commit", mock.Anything).Return(nil).Once()
	defer suite.db.AssertExpectations(suite.T())
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	session.Exit(context.Background(), &err)

	suite.NoError(err, "exit should succeed")
	suite.Empty(suite.calls, "hooks should not run for clean scopes")
}

func (suite *sessionSuite) TestDirtyScopeRunsHooksAroundCommit() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("UPDATE 1"), nil).Once()
	suite.tx.On("Commit", mock.Anything).Run(func(_ mock.Arguments) {
		suite.calls = append(suite.calls, "commit")
	}).Return(nil).Once()
	defer suite.db.AssertExpectations(suite.T())
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	_, err = session.Exec(context.Background(), "UPDATE users SET hit_points = 0")
	suite.Require().NoError(err, "exec should succeed")
	suite.True(session.Dirty(), "session should be dirty after mutating exec")
	session.Exit(context.Background(), &err)

	suite.Require().NoError(err, "exit should succeed")
	suite.Equal([]string{"precommit", "commit", "postcommit"}, suite.calls,
		"should run precommit before and postcommit after the commit")
}

func (suite *sessionSuite) TestExecWithoutAffectedRowsStaysClean() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("UPDATE 0"), nil).Once()
	suite.tx.On("Commit", mock.Anything).Return(nil).Once()
	session := suite.factory(suite.recordingHooks()).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	_, err = session.Exec(context.Background(), "UPDATE users SET hit_points = 0 WHERE false")
	suite.Require().NoError(err, "exec should succeed")
	session.Exit(context.Background(), &err)

	suite.Require().NoError(err, "exit should succeed")
	suite.False(session.Dirty(), "session should stay clean")
	suite.Empty(suite.calls, "hooks should not run")
}

func (suite *sessionSuite) TestReentrantScopeCommitsOnce() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("INSERT 0 1"), nil).Once()
	suite.tx.On("Commit", mock.Anything).Return(nil).Once()
	defer suite.db.AssertExpectations(suite.T())
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	// Outer scope.
	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "outer enter should succeed")
	// Nested scope mutates.
	func() {
		var nestedErr error
		nestedErr = session.Enter(context.Background())
		suite.Require().NoError(nestedErr, "nested enter should succeed")
		defer session.Exit(context.Background(), &nestedErr)
		_, nestedErr = session.Exec(context.Background(), "INSERT INTO shots VALUES (1)")
		suite.Require().NoError(nestedErr, "nested exec should succeed")
	}()
	suite.Empty(suite.calls, "nested exit should not commit or run hooks")
	session.Exit(context.Background(), &err)

	suite.Require().NoError(err, "outer exit should succeed")
	suite.Equal([]string{"precommit", "postcommit"}, suite.calls,
		"only the outermost exit should run hooks")
}

func (suite *sessionSuite) TestErrorRollsBackWithoutHooks() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("UPDATE 1"), nil).Once()
	suite.tx.On("Rollback", mock.Anything).Return(nil).Once()
	defer suite.db.AssertExpectations(suite.T())
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	opErr := errors.New("sad life")
	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	_, err = session.Exec(context.Background(), "UPDATE users SET hit_points = 0")
	suite.Require().NoError(err, "exec should succeed")
	err = opErr
	session.Exit(context.Background(), &err)

	suite.Same(opErr, err, "error should propagate unchanged")
	suite.Empty(suite.calls, "hooks should not run on failed scopes")
	suite.tx.AssertNotCalled(suite.T(), "Commit", mock.Anything)
}

func (suite *sessionSuite) TestNestedErrorRollsBackImmediately() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Rollback", mock.Anything).Return(nil).Once()
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "outer enter should succeed")
	// Nested scope fails.
	nestedErr := errors.New("sad life")
	func() {
		innerErr := session.Enter(context.Background())
		suite.Require().NoError(innerErr, "nested enter should succeed")
		innerErr = nestedErr
		session.Exit(context.Background(), &innerErr)
	}()
	// The transaction is already gone, further statements must fail.
	_, execErr := session.Exec(context.Background(), "UPDATE users SET hit_points = 0")
	suite.Error(execErr, "exec after abort should fail")
	err = nestedErr
	session.Exit(context.Background(), &err)

	suite.Empty(suite.calls, "hooks should not run")
	suite.tx.AssertNotCalled(suite.T(), "Commit", mock.Anything)
	suite.tx.AssertNumberOfCalls(suite.T(), "Rollback", 1)
}

func (suite *sessionSuite) TestPrecommitErrorAbortsCommit() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("UPDATE 1"), nil).Once()
	suite.tx.On("Rollback", mock.Anything).Return(nil).Once()
	defer suite.tx.AssertExpectations(suite.T())
	hookErr := errors.New("sad life")
	session := suite.factory(Hooks{
		Precommit: func(ctx context.Context, session *Session) error {
			return hookErr
		},
		Postcommit: func(ctx context.Context, session *Session) {
			suite.Fail("postcommit", "postcommit must not run when precommit failed")
		},
	}).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	_, err = session.Exec(context.Background(), "UPDATE users SET hit_points = 0")
	suite.Require().NoError(err, "exec should succeed")
	session.Exit(context.Background(), &err)

	suite.Error(err, "exit should fail")
	suite.tx.AssertNotCalled(suite.T(), "Commit", mock.Anything)
}

func (suite *sessionSuite) TestCommitErrorDoesNotRunPostcommit() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil).Once()
	suite.tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag("UPDATE 1"), nil).Once()
	suite.tx.On("Commit", mock.Anything).Return(errors.New("sad life")).Once()
	defer suite.tx.AssertExpectations(suite.T())
	session := suite.factory(suite.recordingHooks()).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	_, err = session.Exec(context.Background(), "UPDATE users SET hit_points = 0")
	suite.Require().NoError(err, "exec should succeed")
	session.Exit(context.Background(), &err)

	suite.Error(err, "exit should fail")
	suite.NotContains(suite.calls, "postcommit", "a failed commit must not fire postcommit hooks")
}

func (suite *sessionSuite) TestMarks() {
	suite.db.On("Begin", mock.Anything).Return(suite.tx, nil)
	suite.tx.On("Commit", mock.Anything).Return(nil)
	session := suite.factory(Hooks{}).Session()

	var err error
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "enter should succeed")
	userID := uuid.New()
	gameID := uuid.New()
	session.MarkUser(userID)
	session.MarkUser(userID)
	session.MarkGame(gameID)
	suite.ElementsMatch([]uuid.UUID{userID}, session.MarkedUsers(), "should deduplicate user marks")
	suite.ElementsMatch([]uuid.UUID{gameID}, session.MarkedGames(), "should hold game marks")
	session.Exit(context.Background(), &err)
	suite.Require().NoError(err, "exit should succeed")

	// A fresh scope starts with cleared marks.
	err = session.Enter(context.Background())
	suite.Require().NoError(err, "second enter should succeed")
	suite.Empty(session.MarkedUsers(), "marks should be cleared on fresh scopes")
	session.Exit(context.Background(), &err)
	suite.Require().NoError(err, "second exit should succeed")
}

func (suite *sessionSuite) TestOwnershipTag() {
	factory := suite.factory(Hooks{})
	suite.True(factory.Session().OwnsTx(), "pool sessions should own their tx")
	suite.False(factory.Borrow(nil).OwnsTx(), "borrowed sessions should not own their tx")
}

func TestSession(t *testing.T) {
	suite.Run(t, new(sessionSuite))
}
