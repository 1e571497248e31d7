// Package ticker is the single place where ticker messages originate. It owns
// the message catalog and decides for every message type who gets to see it
// and how it is worded. All game components post through here instead of
// writing ticker entries themselves.
package ticker

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"go.uber.org/zap"
)

// MessageType identifies an entry in the message catalog.
type MessageType string

const (
	// MessageUserJoinedTeam is posted when a user joins a team.
	MessageUserJoinedTeam MessageType = "user-joined-team"
	// MessageUserCollectedAmmo is posted when a user collects an ammo item
	// for themselves.
	MessageUserCollectedAmmo MessageType = "user-collected-ammo"
	// MessageTeamCollectedAmmo is posted when a user collects an ammo item
	// that benefits their whole team.
	MessageTeamCollectedAmmo MessageType = "team-collected-ammo"
	// MessageUserCollectedArmour is posted when a user collects an armour
	// item.
	MessageUserCollectedArmour MessageType = "user-collected-armour"
	// MessageUserCollectedMedpack is posted when a knocked out user is
	// revived by a medpack.
	MessageUserCollectedMedpack MessageType = "user-collected-medpack"
	// MessageUserCollectedWeapon is posted when a user collects a weapon
	// item.
	MessageUserCollectedWeapon MessageType = "user-collected-weapon"
	// MessageAdminHitUser is posted when an admin damages a user without
	// downing them.
	MessageAdminHitUser MessageType = "admin-hit-user"
	// MessageAdminHitAndKnockedOutUser is posted when an admin hit knocks a
	// user out.
	MessageAdminHitAndKnockedOutUser MessageType = "admin-hit-and-knocked-out-user"
	// MessageAdminHitAndKilledUser is posted when an admin hit kills a user
	// outright.
	MessageAdminHitAndKilledUser MessageType = "admin-hit-and-killed-user"
	// MessageHitAndDamage is posted when a shot damages its target without
	// downing them.
	MessageHitAndDamage MessageType = "hit-and-damage"
	// MessageHitAndKnockout is posted when a shot downs its target.
	MessageHitAndKnockout MessageType = "hit-and-knockout"
	// MessageAdminGaveArmour is sent privately to a user that was given
	// armour by an admin.
	MessageAdminGaveArmour MessageType = "admin-gave-armour"
	// MessageAdminRevivedUser is sent privately to a user that was revived
	// by an admin.
	MessageAdminRevivedUser MessageType = "admin-revived-user"
	// MessageAdminGaveAmmo is sent privately to a user that was given ammo
	// by an admin.
	MessageAdminGaveAmmo MessageType = "admin-gave-ammo"
)

// target states who may see a rendered message.
type target int

const (
	// targetPublic makes the message visible to everyone in the game.
	targetPublic target = iota
	// targetPrivateUser makes the message visible only to the addressed
	// user.
	targetPrivateUser
)

type messageSpec struct {
	target target
	format string
}

// catalog holds the wording and visibility for every message type. Fields in
// curly braces are substituted from Message.Fields when posting.
var catalog = map[MessageType]messageSpec{
	MessageUserJoinedTeam:            {targetPublic, "{user} has joined team {team}"},
	MessageUserCollectedAmmo:         {targetPublic, "{user} collected {num}x ammo"},
	MessageTeamCollectedAmmo:         {targetPublic, "{user} collected {num}x ammo for everyone in their team"},
	MessageUserCollectedArmour:       {targetPublic, "{user} collected a level {num} armour"},
	MessageUserCollectedMedpack:      {targetPublic, "{user} was revived with a medpack!"},
	MessageUserCollectedWeapon:       {targetPublic, "{user} collected a {weapon}"},
	MessageAdminHitUser:              {targetPublic, "Admin hit {user} for {num} damage"},
	MessageAdminHitAndKnockedOutUser: {targetPublic, "Admin knocked out {user}!"},
	MessageAdminHitAndKilledUser:     {targetPublic, "Admin killed {user}!"},
	MessageHitAndDamage:              {targetPublic, "{user} hit {target} for {num} damage"},
	MessageHitAndKnockout:            {targetPublic, "{user} killed {target}!"},
	MessageAdminGaveArmour:           {targetPrivateUser, "You were given a level {num} armour!"},
	MessageAdminRevivedUser:          {targetPrivateUser, "You were revived by the admin!"},
	MessageAdminGaveAmmo:             {targetPrivateUser, "You were given {num}x ammo!"},
}

// Conn is the database access a Log needs for posting. It is satisfied by
// scope sessions so that posted entries commit with the surrounding scope and
// the game's watchers get notified afterwards.
type Conn interface {
	store.Querier
	// MarkGame records that the game's ticker changed within the scope.
	MarkGame(gameID uuid.UUID)
}

// Message describes a single ticker message to post. GameID is always
// required. UserID addresses the recipient for private message types and is
// ignored for public ones.
type Message struct {
	// Type selects the catalog entry.
	Type MessageType
	// Fields holds the values substituted into the catalog format string.
	Fields map[string]string
	// GameID is the game whose ticker receives the message.
	GameID uuid.UUID
	// UserID is the recipient for private message types.
	UserID uuid.NullUUID
	// HighlightUserID marks the user the message is about.
	HighlightUserID uuid.NullUUID
}

// Log posts and reads ticker messages.
type Log struct {
	logger *zap.Logger
	mall   *store.Mall
}

// NewLog creates a Log that persists entries via the given Mall.
func NewLog(logger *zap.Logger, mall *store.Mall) *Log {
	return &Log{
		logger: logger,
		mall:   mall,
	}
}

// render substitutes the message fields into the format string. All
// placeholders must be filled.
func render(format string, fields map[string]string) (string, error) {
	rendered := format
	for key, value := range fields {
		rendered = strings.ReplaceAll(rendered, "{"+key+"}", value)
	}
	if strings.ContainsRune(rendered, '{') {
		return "", errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindShouldNotHappen,
			Message: "unfilled placeholder in ticker message",
			Details: errors.Details{"format": format, "rendered": rendered},
		}
	}
	return rendered, nil
}

// Post renders the message and appends it to the game's ticker according to
// the catalog's visibility rules. The game is marked on the connection so
// ticker watchers are notified once the surrounding scope commits.
func (l *Log) Post(ctx context.Context, conn Conn, message Message) error {
	spec, ok := catalog[message.Type]
	if !ok {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindShouldNotHappen,
			Message: "unknown ticker message type",
			Details: errors.Details{"message_type": message.Type},
		}
	}
	rendered, err := render(spec.format, message.Fields)
	if err != nil {
		return errors.Wrap(err, "render ticker message", nil)
	}
	entry := store.TickerEntry{
		GameID:          message.GameID,
		Message:         rendered,
		HighlightUserID: message.HighlightUserID,
	}
	if spec.target == targetPrivateUser {
		if !message.UserID.Valid {
			return errors.Error{
				Code:    errors.ErrInternal,
				Kind:    errors.KindShouldNotHappen,
				Message: "private ticker message without recipient",
				Details: errors.Details{"message_type": message.Type},
			}
		}
		entry.PrivateUserID = message.UserID
	}
	err = l.mall.CreateTickerEntry(ctx, conn, entry)
	if err != nil {
		return errors.Wrap(err, "create ticker entry", nil)
	}
	conn.MarkGame(message.GameID)
	return nil
}

// Recent retrieves up to limit newest-first entries of the game's ticker as
// visible to the given user.
func (l *Log) Recent(ctx context.Context, q store.Querier, gameID uuid.UUID,
	userID uuid.UUID, limit int) ([]store.TickerEntry, error) {
	entries, err := l.mall.TickerEntriesVisibleTo(ctx, q, gameID, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "ticker entries visible to user", nil)
	}
	return entries, nil
}

// RecentAll retrieves up to limit newest-first entries of the game's ticker
// including private ones. Meant for the admin surface.
func (l *Log) RecentAll(ctx context.Context, q store.Querier, gameID uuid.UUID,
	limit int) ([]store.TickerEntry, error) {
	entries, err := l.mall.TickerEntriesByGame(ctx, q, gameID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "ticker entries by game", nil)
	}
	return entries, nil
}
