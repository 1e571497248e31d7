package combat

import (
	"context"
	"testing"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"github.com/skirmishgame/skirmish-server/trigger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// StoreMock mocks Store.
type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) UserByID(ctx context.Context, q store.Querier, userID uuid.UUID) (store.User, error) {
	args := m.Called(ctx, q, userID)
	return args.Get(0).(store.User), args.Error(1)
}

func (m *StoreMock) UpdateUserHealth(ctx context.Context, q store.Querier, userID uuid.UUID,
	hitPoints int, timeOfDeath nulls.Time) error {
	return m.Called(ctx, q, userID, hitPoints, timeOfDeath).Error(0)
}

func (m *StoreMock) UpdateUserAmmo(ctx context.Context, q store.Querier, userID uuid.UUID, numBullets int) error {
	return m.Called(ctx, q, userID, numBullets).Error(0)
}

func (m *StoreMock) GameOfUser(ctx context.Context, q store.Querier, userID uuid.UUID) (uuid.NullUUID, error) {
	args := m.Called(ctx, q, userID)
	return args.Get(0).(uuid.NullUUID), args.Error(1)
}

func (m *StoreMock) TeamByID(ctx context.Context, q store.Querier, teamID uuid.UUID) (store.Team, error) {
	args := m.Called(ctx, q, teamID)
	return args.Get(0).(store.Team), args.Error(1)
}

func (m *StoreMock) CreateShot(ctx context.Context, q store.Querier, userID, teamID, gameID uuid.UUID,
	image string, damage int) (store.Shot, error) {
	args := m.Called(ctx, q, userID, teamID, gameID, image, damage)
	return args.Get(0).(store.Shot), args.Error(1)
}

func (m *StoreMock) ShotByID(ctx context.Context, q store.Querier, shotID uuid.UUID) (store.Shot, error) {
	args := m.Called(ctx, q, shotID)
	return args.Get(0).(store.Shot), args.Error(1)
}

func (m *StoreMock) MarkShotChecked(ctx context.Context, q store.Querier, shotID uuid.UUID,
	targetUserID uuid.NullUUID) error {
	return m.Called(ctx, q, shotID, targetUserID).Error(0)
}

func (m *StoreMock) UncheckedShots(ctx context.Context, q store.Querier, limit int) ([]store.Shot, int, error) {
	args := m.Called(ctx, q, limit)
	var shots []store.Shot
	shots, _ = args.Get(0).([]store.Shot)
	return shots, args.Int(1), args.Error(2)
}

func (m *StoreMock) UncheckedShotsByCreator(ctx context.Context, q store.Querier, userID uuid.UUID) ([]store.Shot, error) {
	args := m.Called(ctx, q, userID)
	var shots []store.Shot
	shots, _ = args.Get(0).([]store.Shot)
	return shots, args.Error(1)
}

// TickerLogMock mocks TickerLog.
type TickerLogMock struct {
	mock.Mock
}

func (m *TickerLogMock) Post(ctx context.Context, conn ticker.Conn, message ticker.Message) error {
	return m.Called(ctx, conn, message).Error(0)
}

// ConnMock mocks Conn. Only the mark methods are expected to be called as the
// store itself is mocked.
type ConnMock struct {
	mock.Mock
}

func (m *ConnMock) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	called := m.Called(ctx, sql, args)
	rows, _ := called.Get(0).(pgx.Rows)
	return rows, called.Error(1)
}

func (m *ConnMock) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	called := m.Called(ctx, sql, args)
	row, _ := called.Get(0).(pgx.Row)
	return row
}

func (m *ConnMock) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	called := m.Called(ctx, sql, arguments)
	tag, _ := called.Get(0).(pgconn.CommandTag)
	return tag, called.Error(1)
}

func (m *ConnMock) MarkUser(userID uuid.UUID) {
	m.Called(userID)
}

func (m *ConnMock) MarkGame(gameID uuid.UUID) {
	m.Called(gameID)
}

// engineSuite bundles a fresh Engine with its mocks per test.
type engineSuite struct {
	suite.Suite
	engine *Engine
	store  *StoreMock
	log    *TickerLogMock
	conn   *ConnMock
	window time.Duration
}

func (suite *engineSuite) SetupTest() {
	suite.store = &StoreMock{}
	suite.log = &TickerLogMock{}
	suite.conn = &ConnMock{}
	suite.window = 30 * time.Second
	suite.engine = NewEngine(zap.NewNop(), suite.store, trigger.NewRegistry(zap.NewNop()),
		suite.log, suite.window)
}

func (suite *engineSuite) timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (suite *engineSuite) assertMocks() {
	suite.store.AssertExpectations(suite.T())
	suite.log.AssertExpectations(suite.T())
	suite.conn.AssertExpectations(suite.T())
}

func (suite *engineSuite) TestHitReducesHitPoints() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	user := store.User{ID: userID, HitPoints: 3,
		TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, userID, 2, nulls.Time{}).
		Return(nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	outcome, err := suite.engine.Hit(timeout, suite.conn, userID, 1)
	suite.Require().NoError(err, "hit should not fail")
	suite.Equal(2, outcome.User.HitPoints, "should reduce hit points")
	suite.False(outcome.Downed, "should not be downed")
	suite.False(outcome.User.TimeOfDeath.Valid, "should not set time of death")
}

func (suite *engineSuite) TestHitOpensKnockoutWindow() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	gameID := uuid.New()
	user := store.User{ID: userID, HitPoints: 1,
		TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	var setTimeOfDeath nulls.Time
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, userID, 0, mock.Anything).
		Run(func(args mock.Arguments) {
			setTimeOfDeath = args.Get(4).(nulls.Time)
		}).
		Return(nil).Once()
	suite.store.On("GameOfUser", mock.Anything, suite.conn, userID).
		Return(uuid.NullUUID{UUID: gameID, Valid: true}, nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	before := time.Now()
	outcome, err := suite.engine.Hit(timeout, suite.conn, userID, 1)
	suite.Require().NoError(err, "hit should not fail")
	suite.True(outcome.Downed, "should be downed")
	suite.Equal(0, outcome.User.HitPoints, "should reach zero hit points")
	suite.Require().True(setTimeOfDeath.Valid, "should set time of death")
	suite.WithinDuration(before.Add(suite.window), setTimeOfDeath.Time, 2*time.Second,
		"time of death should be one knockout window ahead")
}

func (suite *engineSuite) TestHitClampsAtZero() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	user := store.User{ID: userID, HitPoints: 1,
		TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, userID, 0, mock.Anything).
		Return(nil).Once()
	suite.store.On("GameOfUser", mock.Anything, suite.conn, userID).
		Return(uuid.NullUUID{}, nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	outcome, err := suite.engine.Hit(timeout, suite.conn, userID, 5)
	suite.Require().NoError(err, "hit should not fail")
	suite.Equal(0, outcome.User.HitPoints, "hit points should never go negative")
}

func (suite *engineSuite) TestRehitKeepsTimeOfDeath() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	timeOfDeath := nulls.NewTime(time.Now().Add(10 * time.Second))
	user := store.User{ID: userID, HitPoints: 0, TimeOfDeath: timeOfDeath,
		TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, userID, 0, timeOfDeath).
		Return(nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	outcome, err := suite.engine.Hit(timeout, suite.conn, userID, 1)
	suite.Require().NoError(err, "hit should not fail")
	suite.False(outcome.Downed, "re-hit should not count as downing")
	suite.Equal(timeOfDeath, outcome.User.TimeOfDeath, "re-hit should not move time of death")
}

func (suite *engineSuite) TestHitRejectsNonPositiveAmount() {
	timeout, cancel := suite.timeout()
	defer cancel()
	defer suite.assertMocks()

	_, err := suite.engine.Hit(timeout, suite.conn, uuid.New(), 0)
	suite.Require().Error(err, "hit should fail")
}

func (suite *engineSuite) TestSetHealthClearsTimeOfDeath() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, userID, 3, nulls.Time{}).
		Return(nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	err := suite.engine.SetHealth(timeout, suite.conn, userID, 3)
	suite.Require().NoError(err, "set health should not fail")
}

func (suite *engineSuite) TestAwardAmmo() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	user := store.User{ID: userID, NumBullets: 2}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	suite.store.On("UpdateUserAmmo", mock.Anything, suite.conn, userID, 5).Return(nil).Once()
	suite.conn.On("MarkUser", userID).Once()
	defer suite.assertMocks()

	err := suite.engine.AwardAmmo(timeout, suite.conn, userID, 3)
	suite.Require().NoError(err, "award ammo should not fail")
}

func (suite *engineSuite) TestSubmitShotTeamless() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	user := store.User{ID: userID, HitPoints: 1, NumBullets: 1}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	defer suite.assertMocks()

	_, err := suite.engine.SubmitShot(timeout, suite.conn, userID, "photo")
	suite.Require().Error(err, "submit should fail")
	richErr, _ := errors.Cast(err)
	suite.Equal(errors.ErrForbidden, richErr.Code, "should be forbidden")
	suite.Equal(errors.KindUserTeamless, richErr.Kind, "should blame missing team")
}

func (suite *engineSuite) TestSubmitShotDead() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	user := store.User{ID: userID, HitPoints: 0, NumBullets: 1,
		TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	defer suite.assertMocks()

	_, err := suite.engine.SubmitShot(timeout, suite.conn, userID, "photo")
	suite.Require().Error(err, "submit should fail")
	richErr, _ := errors.Cast(err)
	suite.Equal(errors.KindUserDead, richErr.Kind, "should blame death")
}

func (suite *engineSuite) TestSubmitShotOutOfAmmoThenAward() {
	timeout, cancel := suite.timeout()
	defer cancel()
	userID := uuid.New()
	teamID := uuid.New()
	gameID := uuid.New()
	user := store.User{ID: userID, HitPoints: 1, NumBullets: 0, ShotDamage: 1,
		TeamID: uuid.NullUUID{UUID: teamID, Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).Return(user, nil).Once()
	defer suite.assertMocks()

	_, err := suite.engine.SubmitShot(timeout, suite.conn, userID, "photo")
	suite.Require().Error(err, "submit without ammo should fail")
	richErr, _ := errors.Cast(err)
	suite.Equal(errors.ErrForbidden, richErr.Code, "should be forbidden")
	suite.Equal(errors.KindOutOfAmmo, richErr.Kind, "should blame missing ammo")

	// One awarded bullet makes the next submission pass and spends it again.
	suite.store.On("UpdateUserAmmo", mock.Anything, suite.conn, userID, 1).Return(nil).Once()
	suite.conn.On("MarkUser", userID)
	suite.store.On("UserByID", mock.Anything, suite.conn, userID).
		Return(store.User{ID: userID, HitPoints: 1, NumBullets: 0, ShotDamage: 1,
			TeamID: uuid.NullUUID{UUID: teamID, Valid: true}}, nil).Once()
	err = suite.engine.AwardAmmo(timeout, suite.conn, userID, 1)
	suite.Require().NoError(err, "award ammo should not fail")

	suite.store.On("UserByID", mock.Anything, suite.conn, userID).
		Return(store.User{ID: userID, HitPoints: 1, NumBullets: 1, ShotDamage: 1,
			TeamID: uuid.NullUUID{UUID: teamID, Valid: true}}, nil).Once()
	suite.store.On("TeamByID", mock.Anything, suite.conn, teamID).
		Return(store.Team{ID: teamID, GameID: gameID}, nil).Once()
	suite.store.On("UpdateUserAmmo", mock.Anything, suite.conn, userID, 0).Return(nil).Once()
	suite.store.On("CreateShot", mock.Anything, suite.conn, userID, teamID, gameID, "photo", 1).
		Return(store.Shot{ID: uuid.New(), UserID: userID, Damage: 1}, nil).Once()
	shot, err := suite.engine.SubmitShot(timeout, suite.conn, userID, "photo")
	suite.Require().NoError(err, "submit with ammo should not fail")
	suite.Equal(1, shot.Damage, "shot should carry current shot damage")
}

func (suite *engineSuite) TestResolveShotAlreadyChecked() {
	timeout, cancel := suite.timeout()
	defer cancel()
	shotID := uuid.New()
	target := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	suite.store.On("ShotByID", mock.Anything, suite.conn, shotID).
		Return(store.Shot{ID: shotID, Checked: true}, nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, shotID, target).
		Return(errors.NewConflictError(errors.KindShotAlreadyChecked, "shot already checked", nil)).Once()
	defer suite.assertMocks()

	err := suite.engine.ResolveShot(timeout, suite.conn, shotID, target)
	suite.Require().Error(err, "resolve should fail")
	richErr, _ := errors.Cast(err)
	suite.Equal(errors.ErrConflict, richErr.Code, "should be a conflict")
}

func (suite *engineSuite) TestResolveShotDismiss() {
	timeout, cancel := suite.timeout()
	defer cancel()
	shotID := uuid.New()
	suite.store.On("ShotByID", mock.Anything, suite.conn, shotID).
		Return(store.Shot{ID: shotID}, nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, shotID, uuid.NullUUID{}).
		Return(nil).Once()
	defer suite.assertMocks()

	err := suite.engine.ResolveShot(timeout, suite.conn, shotID, uuid.NullUUID{})
	suite.Require().NoError(err, "dismissing should not fail")
}

func (suite *engineSuite) TestResolveShotDamagesTarget() {
	timeout, cancel := suite.timeout()
	defer cancel()
	shotID := uuid.New()
	creatorID := uuid.New()
	gameID := uuid.New()
	targetID := uuid.New()
	target := uuid.NullUUID{UUID: targetID, Valid: true}
	suite.store.On("ShotByID", mock.Anything, suite.conn, shotID).
		Return(store.Shot{ID: shotID, UserID: creatorID, GameID: gameID, Damage: 1}, nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, shotID, target).
		Return(nil).Once()
	suite.store.On("UserByID", mock.Anything, suite.conn, targetID).
		Return(store.User{ID: targetID, Name: "Benni", HitPoints: 3,
			TeamID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, targetID, 2, nulls.Time{}).
		Return(nil).Once()
	suite.store.On("UserByID", mock.Anything, suite.conn, creatorID).
		Return(store.User{ID: creatorID, Name: "Olivia"}, nil).Once()
	suite.conn.On("MarkUser", targetID).Once()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	defer suite.assertMocks()

	err := suite.engine.ResolveShot(timeout, suite.conn, shotID, target)
	suite.Require().NoError(err, "resolve should not fail")
	suite.Equal(ticker.MessageHitAndDamage, postedMessage.Type, "should announce the hit")
	suite.Equal(gameID, postedMessage.GameID, "should post to the shot's game")
}

func (suite *engineSuite) TestResolveShotDownsTargetAndForceClears() {
	timeout, cancel := suite.timeout()
	defer cancel()
	shotID := uuid.New()
	creatorID := uuid.New()
	gameID := uuid.New()
	targetID := uuid.New()
	targetTeamID := uuid.New()
	target := uuid.NullUUID{UUID: targetID, Valid: true}
	pendingShots := []store.Shot{
		{ID: uuid.New(), UserID: targetID},
		{ID: uuid.New(), UserID: targetID},
	}
	suite.store.On("ShotByID", mock.Anything, suite.conn, shotID).
		Return(store.Shot{ID: shotID, UserID: creatorID, GameID: gameID, Damage: 1}, nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, shotID, target).
		Return(nil).Once()
	suite.store.On("UserByID", mock.Anything, suite.conn, targetID).
		Return(store.User{ID: targetID, Name: "Benni", HitPoints: 1, NumBullets: 1,
			TeamID: uuid.NullUUID{UUID: targetTeamID, Valid: true}}, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, targetID, 0, mock.Anything).
		Return(nil).Once()
	suite.store.On("GameOfUser", mock.Anything, suite.conn, targetID).
		Return(uuid.NullUUID{UUID: gameID, Valid: true}, nil).Once()
	suite.store.On("UserByID", mock.Anything, suite.conn, creatorID).
		Return(store.User{ID: creatorID, Name: "Olivia"}, nil).Once()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	suite.store.On("UncheckedShotsByCreator", mock.Anything, suite.conn, targetID).
		Return(pendingShots, nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, pendingShots[0].ID, uuid.NullUUID{}).
		Return(nil).Once()
	suite.store.On("MarkShotChecked", mock.Anything, suite.conn, pendingShots[1].ID, uuid.NullUUID{}).
		Return(nil).Once()
	suite.store.On("UpdateUserAmmo", mock.Anything, suite.conn, targetID, 3).
		Return(nil).Once()
	suite.conn.On("MarkUser", targetID)
	defer suite.assertMocks()

	err := suite.engine.ResolveShot(timeout, suite.conn, shotID, target)
	suite.Require().NoError(err, "resolve should not fail")
	suite.Equal(ticker.MessageHitAndKnockout, postedMessage.Type, "should announce the knockout")
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(engineSuite))
}
