package combat

import (
	"testing"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// adminSuite reuses the engine mocks for the admin operations.
type adminSuite struct {
	engineSuite
	userID uuid.UUID
	teamID uuid.UUID
	gameID uuid.UUID
}

func (suite *adminSuite) SetupTest() {
	suite.engineSuite.SetupTest()
	suite.userID = uuid.New()
	suite.teamID = uuid.New()
	suite.gameID = uuid.New()
}

func (suite *adminSuite) expectGame() {
	suite.store.On("GameOfUser", mock.Anything, suite.conn, suite.userID).
		Return(uuid.NullUUID{UUID: suite.gameID, Valid: true}, nil)
}

func (suite *adminSuite) TestAdminHitSurvivor() {
	timeout, cancel := suite.timeout()
	defer cancel()
	user := store.User{ID: suite.userID, Name: "Benni", HitPoints: 3,
		TeamID: uuid.NullUUID{UUID: suite.teamID, Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, suite.userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, suite.userID, 2, nulls.Time{}).
		Return(nil).Once()
	suite.conn.On("MarkUser", suite.userID).Once()
	suite.expectGame()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	defer suite.assertMocks()

	outcome, err := suite.engine.AdminHit(timeout, suite.conn, suite.userID, 1)
	suite.Require().NoError(err, "admin hit should not fail")
	suite.False(outcome.Downed, "should not be downed")
	suite.Equal(ticker.MessageAdminHitUser, postedMessage.Type, "should announce the hit")
}

func (suite *adminSuite) TestAdminHitKnocksOut() {
	timeout, cancel := suite.timeout()
	defer cancel()
	user := store.User{ID: suite.userID, Name: "Benni", HitPoints: 1,
		TeamID: uuid.NullUUID{UUID: suite.teamID, Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, suite.userID).Return(user, nil).Once()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, suite.userID, 0, mock.Anything).
		Return(nil).Once()
	suite.conn.On("MarkUser", suite.userID).Once()
	suite.expectGame()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	defer suite.assertMocks()

	outcome, err := suite.engine.AdminHit(timeout, suite.conn, suite.userID, 1)
	suite.Require().NoError(err, "admin hit should not fail")
	suite.True(outcome.Downed, "should be downed")
	suite.Equal(ticker.MessageAdminHitAndKnockedOutUser, postedMessage.Type,
		"should announce the knockout")
}

func (suite *adminSuite) TestAdminKill() {
	timeout, cancel := suite.timeout()
	defer cancel()
	user := store.User{ID: suite.userID, Name: "Benni", HitPoints: 2,
		TeamID: uuid.NullUUID{UUID: suite.teamID, Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, suite.userID).Return(user, nil).Once()
	var setTimeOfDeath nulls.Time
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, suite.userID, 0, mock.Anything).
		Run(func(args mock.Arguments) {
			setTimeOfDeath = args.Get(4).(nulls.Time)
		}).
		Return(nil).Once()
	suite.conn.On("MarkUser", suite.userID).Once()
	suite.expectGame()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	defer suite.assertMocks()

	err := suite.engine.AdminKill(timeout, suite.conn, suite.userID)
	suite.Require().NoError(err, "admin kill should not fail")
	suite.Require().True(setTimeOfDeath.Valid, "should set time of death")
	suite.WithinDuration(time.Now(), setTimeOfDeath.Time, 2*time.Second,
		"should leave no knockout window")
	suite.Equal(ticker.MessageAdminHitAndKilledUser, postedMessage.Type, "should announce the kill")
}

func (suite *adminSuite) TestAdminRevive() {
	timeout, cancel := suite.timeout()
	defer cancel()
	suite.store.On("UpdateUserHealth", mock.Anything, suite.conn, suite.userID,
		store.DefaultHitPoints, nulls.Time{}).Return(nil).Once()
	suite.conn.On("MarkUser", suite.userID).Once()
	suite.expectGame()
	var postedMessage ticker.Message
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).
		Run(func(args mock.Arguments) {
			postedMessage = args.Get(2).(ticker.Message)
		}).
		Return(nil).Once()
	defer suite.assertMocks()

	err := suite.engine.AdminRevive(timeout, suite.conn, suite.userID)
	suite.Require().NoError(err, "admin revive should not fail")
	suite.Equal(ticker.MessageAdminRevivedUser, postedMessage.Type, "should tell the user")
	suite.Require().True(postedMessage.UserID.Valid, "should address the user privately")
	suite.Equal(suite.userID, postedMessage.UserID.UUID, "should address the revived user")
}

func (suite *adminSuite) TestAdminGiveAmmo() {
	timeout, cancel := suite.timeout()
	defer cancel()
	user := store.User{ID: suite.userID, NumBullets: 1,
		TeamID: uuid.NullUUID{UUID: suite.teamID, Valid: true}}
	suite.store.On("UserByID", mock.Anything, suite.conn, suite.userID).Return(user, nil).Once()
	suite.store.On("UpdateUserAmmo", mock.Anything, suite.conn, suite.userID, 4).Return(nil).Once()
	suite.conn.On("MarkUser", suite.userID).Once()
	suite.expectGame()
	suite.log.On("Post", mock.Anything, suite.conn, mock.Anything).Return(nil).Once()
	defer suite.assertMocks()

	err := suite.engine.AdminGiveAmmo(timeout, suite.conn, suite.userID, 3)
	suite.Require().NoError(err, "admin give ammo should not fail")
}

func TestEngineAdmin(t *testing.T) {
	suite.Run(t, new(adminSuite))
}
