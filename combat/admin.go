package combat

import (
	"context"
	"strconv"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
)

// adminGame resolves the game for announcing admin actions on the user.
func (e *Engine) adminGame(ctx context.Context, conn Conn, userID uuid.UUID) (uuid.NullUUID, error) {
	gameID, err := e.store.GameOfUser(ctx, conn, userID)
	if err != nil {
		return uuid.NullUUID{}, errors.Wrap(err, "game of user", nil)
	}
	return gameID, nil
}

// AdminHit applies an admin-adjudicated hit and announces it publicly.
func (e *Engine) AdminHit(ctx context.Context, conn Conn, userID uuid.UUID, amount int) (HitOutcome, error) {
	outcome, err := e.Hit(ctx, conn, userID, amount)
	if err != nil {
		return HitOutcome{}, errors.Wrap(err, "hit", nil)
	}
	gameID, err := e.adminGame(ctx, conn, userID)
	if err != nil {
		return HitOutcome{}, err
	}
	if !gameID.Valid {
		return outcome, nil
	}
	message := ticker.Message{
		Type: ticker.MessageAdminHitUser,
		Fields: map[string]string{
			"user": outcome.User.Name,
			"num":  strconv.Itoa(amount),
		},
		GameID:          gameID.UUID,
		HighlightUserID: uuid.NullUUID{UUID: userID, Valid: true},
	}
	if outcome.Downed {
		message.Type = ticker.MessageAdminHitAndKnockedOutUser
		message.Fields = map[string]string{"user": outcome.User.Name}
	}
	err = e.log.Post(ctx, conn, message)
	if err != nil {
		return HitOutcome{}, errors.Wrap(err, "post admin hit ticker message", nil)
	}
	return outcome, nil
}

// AdminKill puts the user out of the game immediately: hit points drop to
// zero with no knockout window.
func (e *Engine) AdminKill(ctx context.Context, conn Conn, userID uuid.UUID) error {
	user, err := e.store.UserByID(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "user by id", nil)
	}
	err = e.store.UpdateUserHealth(ctx, conn, userID, 0, nulls.NewTime(time.Now()))
	if err != nil {
		return errors.Wrap(err, "update user health", nil)
	}
	conn.MarkUser(userID)
	gameID, err := e.adminGame(ctx, conn, userID)
	if err != nil {
		return err
	}
	if !gameID.Valid {
		return nil
	}
	err = e.log.Post(ctx, conn, ticker.Message{
		Type:            ticker.MessageAdminHitAndKilledUser,
		Fields:          map[string]string{"user": user.Name},
		GameID:          gameID.UUID,
		HighlightUserID: uuid.NullUUID{UUID: userID, Valid: true},
	})
	if err != nil {
		return errors.Wrap(err, "post admin kill ticker message", nil)
	}
	return nil
}

// AdminGiveAmmo grants bullets and tells the user privately.
func (e *Engine) AdminGiveAmmo(ctx context.Context, conn Conn, userID uuid.UUID, amount int) error {
	err := e.AwardAmmo(ctx, conn, userID, amount)
	if err != nil {
		return errors.Wrap(err, "award ammo", nil)
	}
	gameID, err := e.adminGame(ctx, conn, userID)
	if err != nil {
		return err
	}
	if !gameID.Valid {
		return nil
	}
	err = e.log.Post(ctx, conn, ticker.Message{
		Type:   ticker.MessageAdminGaveAmmo,
		Fields: map[string]string{"num": strconv.Itoa(amount)},
		GameID: gameID.UUID,
		UserID: uuid.NullUUID{UUID: userID, Valid: true},
	})
	if err != nil {
		return errors.Wrap(err, "post admin ammo ticker message", nil)
	}
	return nil
}

// AdminGiveArmour sets the user's protection to the given armour level and
// tells the user privately.
func (e *Engine) AdminGiveArmour(ctx context.Context, conn Conn, userID uuid.UUID, level int) error {
	if level <= 0 {
		return errors.NewValidationError(errors.KindUnexpected,
			"armour level must be positive", errors.Details{"level": level})
	}
	err := e.SetHealth(ctx, conn, userID, level+1)
	if err != nil {
		return errors.Wrap(err, "set health", nil)
	}
	gameID, err := e.adminGame(ctx, conn, userID)
	if err != nil {
		return err
	}
	if !gameID.Valid {
		return nil
	}
	err = e.log.Post(ctx, conn, ticker.Message{
		Type:   ticker.MessageAdminGaveArmour,
		Fields: map[string]string{"num": strconv.Itoa(level)},
		GameID: gameID.UUID,
		UserID: uuid.NullUUID{UUID: userID, Valid: true},
	})
	if err != nil {
		return errors.Wrap(err, "post admin armour ticker message", nil)
	}
	return nil
}

// AdminRevive brings the user back with full default health and ammo and
// tells the user privately.
func (e *Engine) AdminRevive(ctx context.Context, conn Conn, userID uuid.UUID) error {
	err := e.SetHealth(ctx, conn, userID, store.DefaultHitPoints)
	if err != nil {
		return errors.Wrap(err, "set health", nil)
	}
	gameID, err := e.adminGame(ctx, conn, userID)
	if err != nil {
		return err
	}
	if !gameID.Valid {
		return nil
	}
	err = e.log.Post(ctx, conn, ticker.Message{
		Type:   ticker.MessageAdminRevivedUser,
		GameID: gameID.UUID,
		UserID: uuid.NullUUID{UUID: userID, Valid: true},
	})
	if err != nil {
		return errors.Wrap(err, "post admin revive ticker message", nil)
	}
	return nil
}
