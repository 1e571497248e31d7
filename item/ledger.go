// Package item implements signed, replay-protected item tokens and their
// type-specific effects. Tokens are bearer records: everything needed for
// validation travels inside the token, the database only tracks who collected
// what for replay protection.
package item

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/combat"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"go.uber.org/zap"
)

// Store covers the database operations the Ledger performs.
type Store interface {
	// UserByID retrieves the store.User with the given id.
	UserByID(ctx context.Context, q store.Querier, userID uuid.UUID) (store.User, error)
	// UsersByTeam retrieves all members of the team.
	UsersByTeam(ctx context.Context, q store.Querier, teamID uuid.UUID) ([]store.User, error)
	// TeamByID retrieves the store.Team with the given id.
	TeamByID(ctx context.Context, q store.Querier, teamID uuid.UUID) (store.Team, error)
	// ItemByID retrieves the collection record for the token id, if any.
	ItemByID(ctx context.Context, q store.Querier, itemID uuid.UUID) (store.Item, bool, error)
	// CreateItem persists the record of a first collection.
	CreateItem(ctx context.Context, q store.Querier, item store.Item) error
	// ItemHolders retrieves the ids of all users holding the item.
	ItemHolders(ctx context.Context, q store.Querier, itemID uuid.UUID) ([]uuid.UUID, error)
	// AddItemHolder associates a user with the item.
	AddItemHolder(ctx context.Context, q store.Querier, itemID, userID uuid.UUID) error
	// UpdateUserLoadout sets the user's weapon stats.
	UpdateUserLoadout(ctx context.Context, q store.Querier, userID uuid.UUID,
		shotDamage int, shotTimeout float64) error
}

// CombatEngine covers the state mutators item effects delegate to.
type CombatEngine interface {
	// AwardAmmo grants bullets.
	AwardAmmo(ctx context.Context, conn combat.Conn, userID uuid.UUID, amount int) error
	// SetHealth sets hit points and clears the knockout window.
	SetHealth(ctx context.Context, conn combat.Conn, userID uuid.UUID, value int) error
}

// TickerLog posts rendered ticker messages. Satisfied by ticker.Log.
type TickerLog interface {
	Post(ctx context.Context, conn ticker.Conn, message ticker.Message) error
}

// Ledger mints and collects item tokens.
type Ledger struct {
	logger *zap.Logger
	store  Store
	combat CombatEngine
	log    TickerLog
	// secret keys the token signatures.
	secret []byte
}

// NewLedger creates a Ledger that signs and verifies tokens with the given
// secret.
func NewLedger(logger *zap.Logger, s Store, combatEngine CombatEngine, log TickerLog,
	secret []byte) *Ledger {
	return &Ledger{
		logger: logger,
		store:  s,
		combat: combatEngine,
		log:    log,
		secret: secret,
	}
}

// Mint creates and signs a fresh token of the given type. The payload must
// match the type's payload struct. Returns the encoded token.
func (l *Ledger) Mint(itemType Type, payload interface{}, collectedOnlyOnce bool,
	collectedAsTeam bool) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal token payload",
		}
	}
	salt, err := newSalt()
	if err != nil {
		return "", errors.Wrap(err, "new salt", nil)
	}
	token := Token{
		ID:                uuid.New(),
		Type:              itemType,
		Data:              data,
		CollectedOnlyOnce: collectedOnlyOnce,
		CollectedAsTeam:   collectedAsTeam,
		Salt:              salt,
	}
	token.Signature, err = sign(token, l.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token", nil)
	}
	encoded, err := Encode(token)
	if err != nil {
		return "", errors.Wrap(err, "encode token", nil)
	}
	l.logger.Info("minted item token",
		zap.String("item_id", token.ID.String()),
		zap.String("item_type", string(itemType)))
	return encoded, nil
}

// Collect validates the encoded token and applies its effect to the user.
// Replay protection: the first collection creates the item record; later
// collections are rejected for single-use tokens, and otherwise rejected only
// when the same entity (the user, or for team tokens anyone in the user's
// current team) already holds the item.
func (l *Ledger) Collect(ctx context.Context, conn combat.Conn, userID uuid.UUID,
	encoded string) error {
	token, err := Decode(encoded)
	if err != nil {
		return errors.Wrap(err, "decode token", nil)
	}
	err = verifySignature(token, l.secret)
	if err != nil {
		return errors.Wrap(err, "verify token signature", nil)
	}
	user, err := l.store.UserByID(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "user by id", nil)
	}
	if !user.TeamID.Valid {
		return errors.NewForbiddenError(errors.KindUserTeamless,
			"cannot collect items without a team", errors.Details{"user_id": userID})
	}
	err = l.checkReplay(ctx, conn, token, user)
	if err != nil {
		return err
	}
	beneficiaries, err := l.beneficiaries(ctx, conn, token, user)
	if err != nil {
		return errors.Wrap(err, "determine beneficiaries", nil)
	}
	err = l.applyEffect(ctx, conn, token, user, beneficiaries)
	if err != nil {
		return err
	}
	err = l.recordCollection(ctx, conn, token, beneficiaries)
	if err != nil {
		return errors.Wrap(err, "record collection", nil)
	}
	l.logger.Info("item collected",
		zap.String("item_id", token.ID.String()),
		zap.String("item_type", string(token.Type)),
		zap.String("user_id", userID.String()))
	return nil
}

// checkReplay rejects the collection if the token was already consumed by
// this entity, or by anyone for single-use tokens.
func (l *Ledger) checkReplay(ctx context.Context, conn combat.Conn, token Token,
	user store.User) error {
	record, found, err := l.store.ItemByID(ctx, conn, token.ID)
	if err != nil {
		return errors.Wrap(err, "item by id", nil)
	}
	if !found {
		return nil
	}
	if record.CollectedOnlyOnce {
		return errors.NewForbiddenError(errors.KindItemAlreadyCollected,
			"item has already been collected", errors.Details{"item_id": token.ID})
	}
	holders, err := l.store.ItemHolders(ctx, conn, token.ID)
	if err != nil {
		return errors.Wrap(err, "item holders", nil)
	}
	holderSet := make(map[uuid.UUID]struct{}, len(holders))
	for _, holder := range holders {
		holderSet[holder] = struct{}{}
	}
	if _, held := holderSet[user.ID]; held {
		return errors.NewForbiddenError(errors.KindItemAlreadyCollected,
			"item has already been collected", errors.Details{"item_id": token.ID})
	}
	if token.CollectedAsTeam {
		// A team token is blocked for the whole team as soon as any current
		// member holds it.
		teammates, err := l.store.UsersByTeam(ctx, conn, user.TeamID.UUID)
		if err != nil {
			return errors.Wrap(err, "users by team", nil)
		}
		for _, teammate := range teammates {
			if _, held := holderSet[teammate.ID]; held {
				return errors.NewForbiddenError(errors.KindItemAlreadyCollected,
					"item has already been collected by the team",
					errors.Details{"item_id": token.ID, "team_id": user.TeamID.UUID})
			}
		}
	}
	return nil
}

// beneficiaries determines who receives the effect: the collector, or the
// collector's whole current team for team tokens.
func (l *Ledger) beneficiaries(ctx context.Context, conn combat.Conn, token Token,
	user store.User) ([]store.User, error) {
	if !token.CollectedAsTeam {
		return []store.User{user}, nil
	}
	teammates, err := l.store.UsersByTeam(ctx, conn, user.TeamID.UUID)
	if err != nil {
		return nil, errors.Wrap(err, "users by team", nil)
	}
	return teammates, nil
}

// recordCollection persists the collection, creating the item record on
// first collection and associating every beneficiary.
func (l *Ledger) recordCollection(ctx context.Context, conn combat.Conn, token Token,
	beneficiaries []store.User) error {
	_, found, err := l.store.ItemByID(ctx, conn, token.ID)
	if err != nil {
		return errors.Wrap(err, "item by id", nil)
	}
	if !found {
		err = l.store.CreateItem(ctx, conn, store.Item{
			ID:                token.ID,
			Type:              string(token.Type),
			Data:              token.Data,
			CollectedOnlyOnce: token.CollectedOnlyOnce,
			CollectedAsTeam:   token.CollectedAsTeam,
			TimeCreated:       time.Now(),
		})
		if err != nil {
			return errors.Wrap(err, "create item", nil)
		}
	}
	for _, beneficiary := range beneficiaries {
		err = l.store.AddItemHolder(ctx, conn, token.ID, beneficiary.ID)
		if err != nil {
			return errors.Wrap(err, "add item holder", nil)
		}
	}
	return nil
}

// applyEffect dispatches on the token type and applies the effect to all
// beneficiaries, posting the matching ticker message.
func (l *Ledger) applyEffect(ctx context.Context, conn combat.Conn, token Token,
	collector store.User, beneficiaries []store.User) error {
	gameID, err := l.gameOf(ctx, conn, collector)
	if err != nil {
		return errors.Wrap(err, "game of collector", nil)
	}
	switch token.Type {
	case TypeAmmo:
		return l.applyAmmo(ctx, conn, token, collector, beneficiaries, gameID)
	case TypeArmour:
		return l.applyArmour(ctx, conn, token, collector, gameID)
	case TypeMedpack:
		return l.applyMedpack(ctx, conn, collector, gameID)
	case TypeWeapon:
		return l.applyWeapon(ctx, conn, token, collector, gameID)
	default:
		return errors.NewValidationError(errors.KindUnknownItemType,
			"unknown item type", errors.Details{"item_type": token.Type})
	}
}

func (l *Ledger) gameOf(ctx context.Context, conn combat.Conn, user store.User) (uuid.UUID, error) {
	team, err := l.store.TeamByID(ctx, conn, user.TeamID.UUID)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "team by id", nil)
	}
	return team.GameID, nil
}

// requireBreathing rejects the effect for users without hit points. Downed
// users collect nothing except medpacks.
func requireBreathing(user store.User) error {
	if user.HitPoints <= 0 {
		return errors.NewForbiddenError(errors.KindUserDead,
			"cannot collect items while down", errors.Details{"user_id": user.ID})
	}
	return nil
}

func (l *Ledger) applyAmmo(ctx context.Context, conn combat.Conn, token Token,
	collector store.User, beneficiaries []store.User, gameID uuid.UUID) error {
	err := requireBreathing(collector)
	if err != nil {
		return err
	}
	var payload AmmoPayload
	err = json.Unmarshal(token.Data, &payload)
	if err != nil {
		return errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
			"unmarshal ammo payload")
	}
	if payload.Num <= 0 {
		return errors.NewValidationError(errors.KindMalformedToken,
			"ammo amount must be positive", errors.Details{"num": payload.Num})
	}
	for _, beneficiary := range beneficiaries {
		err = l.combat.AwardAmmo(ctx, conn, beneficiary.ID, payload.Num)
		if err != nil {
			return errors.Wrap(err, "award ammo", nil)
		}
	}
	messageType := ticker.MessageUserCollectedAmmo
	if token.CollectedAsTeam {
		messageType = ticker.MessageTeamCollectedAmmo
	}
	return l.log.Post(ctx, conn, ticker.Message{
		Type: messageType,
		Fields: map[string]string{
			"user": collector.Name,
			"num":  strconv.Itoa(payload.Num),
		},
		GameID:          gameID,
		HighlightUserID: uuid.NullUUID{UUID: collector.ID, Valid: true},
	})
}

func (l *Ledger) applyArmour(ctx context.Context, conn combat.Conn, token Token,
	collector store.User, gameID uuid.UUID) error {
	err := requireBreathing(collector)
	if err != nil {
		return err
	}
	var payload ArmourPayload
	err = json.Unmarshal(token.Data, &payload)
	if err != nil {
		return errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
			"unmarshal armour payload")
	}
	if payload.Num <= 0 {
		return errors.NewValidationError(errors.KindMalformedToken,
			"armour level must be positive", errors.Details{"num": payload.Num})
	}
	newHitPoints := payload.Num + 1
	if collector.HitPoints >= newHitPoints {
		return errors.NewForbiddenError(errors.KindWrongUserState,
			"user already has armour at least this good",
			errors.Details{"hit_points": collector.HitPoints, "num": payload.Num})
	}
	err = l.combat.SetHealth(ctx, conn, collector.ID, newHitPoints)
	if err != nil {
		return errors.Wrap(err, "set health", nil)
	}
	return l.log.Post(ctx, conn, ticker.Message{
		Type: ticker.MessageUserCollectedArmour,
		Fields: map[string]string{
			"user": collector.Name,
			"num":  strconv.Itoa(payload.Num),
		},
		GameID:          gameID,
		HighlightUserID: uuid.NullUUID{UUID: collector.ID, Valid: true},
	})
}

func (l *Ledger) applyMedpack(ctx context.Context, conn combat.Conn,
	collector store.User, gameID uuid.UUID) error {
	if collector.State(time.Now()) != store.UserStateKnockedOut {
		return errors.NewForbiddenError(errors.KindWrongUserState,
			"medpacks can only be used on knocked out users",
			errors.Details{"user_id": collector.ID, "hit_points": collector.HitPoints})
	}
	err := l.combat.SetHealth(ctx, conn, collector.ID, 1)
	if err != nil {
		return errors.Wrap(err, "set health", nil)
	}
	return l.log.Post(ctx, conn, ticker.Message{
		Type: ticker.MessageUserCollectedMedpack,
		Fields: map[string]string{
			"user": collector.Name,
		},
		GameID:          gameID,
		HighlightUserID: uuid.NullUUID{UUID: collector.ID, Valid: true},
	})
}

func (l *Ledger) applyWeapon(ctx context.Context, conn combat.Conn, token Token,
	collector store.User, gameID uuid.UUID) error {
	err := requireBreathing(collector)
	if err != nil {
		return err
	}
	var payload WeaponPayload
	err = json.Unmarshal(token.Data, &payload)
	if err != nil {
		return errors.NewValidationErrorFromErr(errors.KindMalformedToken, err,
			"unmarshal weapon payload")
	}
	if payload.ShotDamage <= 0 {
		return errors.NewValidationError(errors.KindMalformedToken,
			"shot damage must be positive", errors.Details{"shot_damage": payload.ShotDamage})
	}
	if collector.ShotDamage == payload.ShotDamage && collector.ShotTimeout == payload.ShotTimeout {
		return errors.NewForbiddenError(errors.KindWrongUserState,
			"weapon is already equipped",
			errors.Details{"shot_damage": payload.ShotDamage, "shot_timeout": payload.ShotTimeout})
	}
	err = l.store.UpdateUserLoadout(ctx, conn, collector.ID, payload.ShotDamage, payload.ShotTimeout)
	if err != nil {
		return errors.Wrap(err, "update user loadout", nil)
	}
	conn.MarkUser(collector.ID)
	weaponName := payload.Name
	if weaponName == "" {
		weaponName = "new weapon"
	}
	return l.log.Post(ctx, conn, ticker.Message{
		Type: ticker.MessageUserCollectedWeapon,
		Fields: map[string]string{
			"user":   collector.Name,
			"weapon": weaponName,
		},
		GameID:          gameID,
		HighlightUserID: uuid.NullUUID{UUID: collector.ID, Valid: true},
	})
}

// interface assertions for the production wiring.
var (
	_ Store        = (*store.Mall)(nil)
	_ CombatEngine = (*combat.Engine)(nil)
	_ TickerLog    = (*ticker.Log)(nil)
)
