// Package combat implements the health, ammo and knockout state machine as
// well as the shot moderation queue. All mutating operations expect to run
// inside a scope so that committed changes notify the affected watchers.
package combat

import (
	"context"
	"strconv"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/scope"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"github.com/skirmishgame/skirmish-server/trigger"
	"go.uber.org/zap"
)

// DefaultKnockoutWindow is how long a downed user stays revivable before
// being permanently dead.
const DefaultKnockoutWindow = 60 * time.Second

// Conn is the database access combat operations need. Satisfied by scope
// sessions.
type Conn interface {
	ticker.Conn
	// MarkUser records that the user changed within the scope.
	MarkUser(userID uuid.UUID)
}

// Store covers the database operations the Engine performs.
type Store interface {
	// UserByID retrieves the store.User with the given id.
	UserByID(ctx context.Context, q store.Querier, userID uuid.UUID) (store.User, error)
	// UpdateUserHealth sets hit points and time of death of the user.
	UpdateUserHealth(ctx context.Context, q store.Querier, userID uuid.UUID,
		hitPoints int, timeOfDeath nulls.Time) error
	// UpdateUserAmmo sets the ammo of the user.
	UpdateUserAmmo(ctx context.Context, q store.Querier, userID uuid.UUID, numBullets int) error
	// GameOfUser resolves the game the user currently plays in.
	GameOfUser(ctx context.Context, q store.Querier, userID uuid.UUID) (uuid.NullUUID, error)
	// TeamByID retrieves the store.Team with the given id.
	TeamByID(ctx context.Context, q store.Querier, teamID uuid.UUID) (store.Team, error)
	// CreateShot enqueues a new unchecked shot.
	CreateShot(ctx context.Context, q store.Querier, userID, teamID, gameID uuid.UUID,
		image string, damage int) (store.Shot, error)
	// ShotByID retrieves the store.Shot with the given id.
	ShotByID(ctx context.Context, q store.Querier, shotID uuid.UUID) (store.Shot, error)
	// MarkShotChecked marks the shot as checked exactly once.
	MarkShotChecked(ctx context.Context, q store.Querier, shotID uuid.UUID,
		targetUserID uuid.NullUUID) error
	// UncheckedShots lists unchecked shots in submission order with the total
	// queue length.
	UncheckedShots(ctx context.Context, q store.Querier, limit int) ([]store.Shot, int, error)
	// UncheckedShotsByCreator lists the user's own unchecked shots.
	UncheckedShotsByCreator(ctx context.Context, q store.Querier, userID uuid.UUID) ([]store.Shot, error)
}

// TickerLog posts rendered ticker messages. Satisfied by ticker.Log.
type TickerLog interface {
	Post(ctx context.Context, conn ticker.Conn, message ticker.Message) error
}

// Engine mutates user combat state and moderates submitted shots.
type Engine struct {
	logger   *zap.Logger
	store    Store
	triggers *trigger.Registry
	log      TickerLog
	// knockoutWindow is the duration of the revivable phase after a lethal
	// hit.
	knockoutWindow time.Duration
}

// NewEngine creates an Engine. A non-positive knockoutWindow falls back to
// DefaultKnockoutWindow.
func NewEngine(logger *zap.Logger, s Store, triggers *trigger.Registry,
	log TickerLog, knockoutWindow time.Duration) *Engine {
	if knockoutWindow <= 0 {
		knockoutWindow = DefaultKnockoutWindow
	}
	return &Engine{
		logger:         logger,
		store:          s,
		triggers:       triggers,
		log:            log,
		knockoutWindow: knockoutWindow,
	}
}

// KnockoutWindow returns the configured knockout window.
func (e *Engine) KnockoutWindow() time.Duration {
	return e.knockoutWindow
}

// HitOutcome describes the result of a Hit.
type HitOutcome struct {
	// User is the user state after the hit.
	User store.User
	// Downed is set when this hit crossed from positive to zero hit points.
	Downed bool
}

// Hit deals the given amount of damage to the user. Hit points clamp at zero.
// The hit that crosses from positive to zero hit points opens the knockout
// window: time_of_death is set to now plus the window, and re-notification
// signals for the user and their game's ticker are scheduled at that horizon
// so clients observe the knockout-to-dead transition without further writes.
// Hits on an already downed user never move time_of_death.
func (e *Engine) Hit(ctx context.Context, conn Conn, userID uuid.UUID, amount int) (HitOutcome, error) {
	if amount <= 0 {
		return HitOutcome{}, errors.NewValidationError(errors.KindUnexpected,
			"hit amount must be positive", errors.Details{"amount": amount})
	}
	user, err := e.store.UserByID(ctx, conn, userID)
	if err != nil {
		return HitOutcome{}, errors.Wrap(err, "user by id", nil)
	}
	newHitPoints := user.HitPoints - amount
	if newHitPoints < 0 {
		newHitPoints = 0
	}
	downed := user.HitPoints > 0 && newHitPoints == 0
	timeOfDeath := user.TimeOfDeath
	if downed {
		timeOfDeath = nulls.NewTime(time.Now().Add(e.knockoutWindow))
	}
	err = e.store.UpdateUserHealth(ctx, conn, userID, newHitPoints, timeOfDeath)
	if err != nil {
		return HitOutcome{}, errors.Wrap(err, "update user health", nil)
	}
	conn.MarkUser(userID)
	if downed {
		e.logger.Debug("user downed",
			zap.String("user_id", userID.String()),
			zap.Duration("knockout_window", e.knockoutWindow))
		e.triggers.Schedule(trigger.KindUser, userID, e.knockoutWindow)
		gameID, err := e.store.GameOfUser(ctx, conn, userID)
		if err != nil {
			return HitOutcome{}, errors.Wrap(err, "game of user", nil)
		}
		if gameID.Valid {
			e.triggers.Schedule(trigger.KindTicker, gameID.UUID, e.knockoutWindow)
		}
	}
	user.HitPoints = newHitPoints
	user.TimeOfDeath = timeOfDeath
	return HitOutcome{User: user, Downed: downed}, nil
}

// AwardHealth grants the user additional hit points. The knockout window is
// untouched, reviving happens through SetHealth or medpacks.
func (e *Engine) AwardHealth(ctx context.Context, conn Conn, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return errors.NewValidationError(errors.KindUnexpected,
			"award amount must be positive", errors.Details{"amount": amount})
	}
	user, err := e.store.UserByID(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "user by id", nil)
	}
	err = e.store.UpdateUserHealth(ctx, conn, userID, user.HitPoints+amount, user.TimeOfDeath)
	if err != nil {
		return errors.Wrap(err, "update user health", nil)
	}
	conn.MarkUser(userID)
	return nil
}

// SetHealth sets the user's hit points to the given value and clears the
// knockout window. Used for revives and admin resets.
func (e *Engine) SetHealth(ctx context.Context, conn Conn, userID uuid.UUID, value int) error {
	if value < 0 {
		return errors.NewValidationError(errors.KindUnexpected,
			"hit points must not be negative", errors.Details{"value": value})
	}
	err := e.store.UpdateUserHealth(ctx, conn, userID, value, nulls.Time{})
	if err != nil {
		return errors.Wrap(err, "update user health", nil)
	}
	conn.MarkUser(userID)
	return nil
}

// AwardAmmo grants the user additional bullets.
func (e *Engine) AwardAmmo(ctx context.Context, conn Conn, userID uuid.UUID, amount int) error {
	if amount <= 0 {
		return errors.NewValidationError(errors.KindUnexpected,
			"award amount must be positive", errors.Details{"amount": amount})
	}
	user, err := e.store.UserByID(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "user by id", nil)
	}
	err = e.store.UpdateUserAmmo(ctx, conn, userID, user.NumBullets+amount)
	if err != nil {
		return errors.Wrap(err, "update user ammo", nil)
	}
	conn.MarkUser(userID)
	return nil
}

// SubmitShot spends one bullet and enqueues the shot photo for moderation.
// The shot carries the user's shot damage at submission time so later weapon
// changes do not retroactively alter pending shots. Fails for team-less users
// as well as for downed ones or when out of ammo.
func (e *Engine) SubmitShot(ctx context.Context, conn Conn, userID uuid.UUID, image string) (store.Shot, error) {
	user, err := e.store.UserByID(ctx, conn, userID)
	if err != nil {
		return store.Shot{}, errors.Wrap(err, "user by id", nil)
	}
	if !user.TeamID.Valid {
		return store.Shot{}, errors.NewForbiddenError(errors.KindUserTeamless,
			"user is not in a team yet", errors.Details{"user_id": userID})
	}
	if user.HitPoints <= 0 {
		return store.Shot{}, errors.NewForbiddenError(errors.KindUserDead,
			"user is dead", errors.Details{"user_id": userID})
	}
	if user.NumBullets <= 0 {
		return store.Shot{}, errors.NewForbiddenError(errors.KindOutOfAmmo,
			"user has no ammo", errors.Details{"user_id": userID})
	}
	team, err := e.store.TeamByID(ctx, conn, user.TeamID.UUID)
	if err != nil {
		return store.Shot{}, errors.Wrap(err, "team by id", nil)
	}
	err = e.store.UpdateUserAmmo(ctx, conn, userID, user.NumBullets-1)
	if err != nil {
		return store.Shot{}, errors.Wrap(err, "update user ammo", nil)
	}
	shot, err := e.store.CreateShot(ctx, conn, userID, team.ID, team.GameID, image, user.ShotDamage)
	if err != nil {
		return store.Shot{}, errors.Wrap(err, "create shot", nil)
	}
	conn.MarkUser(userID)
	e.logger.Info("shot submitted",
		zap.String("user_id", userID.String()),
		zap.String("shot_id", shot.ID.String()),
		zap.Int("damage", shot.Damage))
	return shot, nil
}

// ResolveShot adjudicates the shot. Without a target the shot is dismissed
// and only marked as checked. With a target the shot's damage is applied as a
// hit on the target, which may be the shooter themselves. If the hit downs
// the target, all of the target's own outstanding unchecked shots are
// force-cleared with one bullet refunded each, so a user downed mid-queue
// cannot later be credited with kills from shots fired before going down.
// Resolving an already checked shot fails with a conflict.
func (e *Engine) ResolveShot(ctx context.Context, conn Conn, shotID uuid.UUID,
	targetUserID uuid.NullUUID) error {
	shot, err := e.store.ShotByID(ctx, conn, shotID)
	if err != nil {
		return errors.Wrap(err, "shot by id", nil)
	}
	err = e.store.MarkShotChecked(ctx, conn, shotID, targetUserID)
	if err != nil {
		return errors.Wrap(err, "mark shot checked", nil)
	}
	if !targetUserID.Valid {
		e.logger.Info("shot dismissed", zap.String("shot_id", shotID.String()))
		return nil
	}
	outcome, err := e.Hit(ctx, conn, targetUserID.UUID, shot.Damage)
	if err != nil {
		return errors.Wrap(err, "hit shot target", nil)
	}
	creator, err := e.store.UserByID(ctx, conn, shot.UserID)
	if err != nil {
		return errors.Wrap(err, "shot creator by id", nil)
	}
	messageType := ticker.MessageHitAndDamage
	if outcome.Downed {
		messageType = ticker.MessageHitAndKnockout
	}
	err = e.log.Post(ctx, conn, ticker.Message{
		Type: messageType,
		Fields: map[string]string{
			"user":   creator.Name,
			"target": outcome.User.Name,
			"num":    strconv.Itoa(shot.Damage),
		},
		GameID:          shot.GameID,
		HighlightUserID: targetUserID,
	})
	if err != nil {
		return errors.Wrap(err, "post hit ticker message", nil)
	}
	if outcome.Downed {
		err = e.forceClearShots(ctx, conn, outcome.User)
		if err != nil {
			return errors.Wrap(err, "force-clear shots of downed target", nil)
		}
	}
	return nil
}

// forceClearShots marks all of the downed user's unchecked shots as checked
// and refunds one bullet per cleared shot.
func (e *Engine) forceClearShots(ctx context.Context, conn Conn, target store.User) error {
	pending, err := e.store.UncheckedShotsByCreator(ctx, conn, target.ID)
	if err != nil {
		return errors.Wrap(err, "unchecked shots by creator", nil)
	}
	if len(pending) == 0 {
		return nil
	}
	for _, shot := range pending {
		err = e.store.MarkShotChecked(ctx, conn, shot.ID, uuid.NullUUID{})
		if err != nil {
			return errors.Wrap(err, "mark pending shot checked", nil)
		}
	}
	err = e.store.UpdateUserAmmo(ctx, conn, target.ID, target.NumBullets+len(pending))
	if err != nil {
		return errors.Wrap(err, "refund ammo", nil)
	}
	conn.MarkUser(target.ID)
	e.logger.Info("force-cleared pending shots of downed user",
		zap.String("user_id", target.ID.String()),
		zap.Int("cleared", len(pending)))
	return nil
}

// UncheckedShots lists up to limit unchecked shots in submission order along
// with the total queue length.
func (e *Engine) UncheckedShots(ctx context.Context, q store.Querier, limit int) ([]store.Shot, int, error) {
	shots, total, err := e.store.UncheckedShots(ctx, q, limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "unchecked shots", nil)
	}
	return shots, total, nil
}

// interface assertions for the production wiring.
var (
	_ Conn      = (*scope.Session)(nil)
	_ Store     = (*store.Mall)(nil)
	_ TickerLog = (*ticker.Log)(nil)
)
