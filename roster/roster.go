// Package roster manages the lifecycle of games, teams and users: creation,
// joining, activation and read models like the scoreboard. Combat state is
// owned by the combat package, roster only touches membership and identity.
package roster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/combat"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"go.uber.org/zap"
)

// Conn is the database access roster operations need inside a scope.
type Conn = combat.Conn

// Store covers the database operations the Manager performs.
type Store interface {
	// CreateGame creates a fresh game.
	CreateGame(ctx context.Context, q store.Querier) (store.Game, error)
	// GameByID retrieves the store.Game with the given id.
	GameByID(ctx context.Context, q store.Querier, gameID uuid.UUID) (store.Game, error)
	// Games retrieves all games, newest first.
	Games(ctx context.Context, q store.Querier) ([]store.Game, error)
	// SetGameActive sets the active flag of the game.
	SetGameActive(ctx context.Context, q store.Querier, gameID uuid.UUID, active bool) error
	// CreateTeam creates a team in the game.
	CreateTeam(ctx context.Context, q store.Querier, gameID uuid.UUID, name string) (store.Team, error)
	// TeamByID retrieves the store.Team with the given id.
	TeamByID(ctx context.Context, q store.Querier, teamID uuid.UUID) (store.Team, error)
	// TeamsByGame retrieves all teams of the game.
	TeamsByGame(ctx context.Context, q store.Querier, gameID uuid.UUID) ([]store.Team, error)
	// CreateUser creates a user record.
	CreateUser(ctx context.Context, q store.Querier, userID uuid.UUID, name string) (store.User, error)
	// UserByID retrieves the store.User with the given id.
	UserByID(ctx context.Context, q store.Querier, userID uuid.UUID) (store.User, error)
	// UsersByTeam retrieves all members of the team.
	UsersByTeam(ctx context.Context, q store.Querier, teamID uuid.UUID) ([]store.User, error)
	// UpdateUserName sets the user's display name.
	UpdateUserName(ctx context.Context, q store.Querier, userID uuid.UUID, name string) error
	// UpdateUserTeam moves the user to the team.
	UpdateUserTeam(ctx context.Context, q store.Querier, userID uuid.UUID, teamID uuid.NullUUID) error
	// UpdateUserAmmo sets the user's ammo.
	UpdateUserAmmo(ctx context.Context, q store.Querier, userID uuid.UUID, numBullets int) error
	// UpdateUserLoadout sets the user's weapon stats.
	UpdateUserLoadout(ctx context.Context, q store.Querier, userID uuid.UUID,
		shotDamage int, shotTimeout float64) error
	// UpdateUserLastSeen refreshes the user's last seen timestamp.
	UpdateUserLastSeen(ctx context.Context, q store.Querier, userID uuid.UUID) error
}

// CombatEngine covers the state mutators roster delegates to for resets.
type CombatEngine interface {
	// SetHealth sets hit points and clears the knockout window.
	SetHealth(ctx context.Context, conn combat.Conn, userID uuid.UUID, value int) error
}

// TickerLog posts rendered ticker messages. Satisfied by ticker.Log.
type TickerLog interface {
	Post(ctx context.Context, conn ticker.Conn, message ticker.Message) error
}

// Manager implements game, team and user lifecycle operations.
type Manager struct {
	logger *zap.Logger
	store  Store
	combat CombatEngine
	log    TickerLog
}

// NewManager creates a Manager.
func NewManager(logger *zap.Logger, s Store, combatEngine CombatEngine, log TickerLog) *Manager {
	return &Manager{
		logger: logger,
		store:  s,
		combat: combatEngine,
		log:    log,
	}
}

// CreateGame creates a fresh, active game.
func (m *Manager) CreateGame(ctx context.Context, conn Conn) (store.Game, error) {
	game, err := m.store.CreateGame(ctx, conn)
	if err != nil {
		return store.Game{}, errors.Wrap(err, "create game", nil)
	}
	m.logger.Info("game created", zap.String("game_id", game.ID.String()))
	return game, nil
}

// CreateTeam creates a team in the given game.
func (m *Manager) CreateTeam(ctx context.Context, conn Conn, gameID uuid.UUID,
	name string) (store.Team, error) {
	if name == "" {
		return store.Team{}, errors.NewValidationError(errors.KindUnexpected,
			"team name must not be empty", nil)
	}
	_, err := m.store.GameByID(ctx, conn, gameID)
	if err != nil {
		return store.Team{}, errors.Wrap(err, "game by id", nil)
	}
	team, err := m.store.CreateTeam(ctx, conn, gameID, name)
	if err != nil {
		return store.Team{}, errors.Wrap(err, "create team", nil)
	}
	m.logger.Info("team created",
		zap.String("team_id", team.ID.String()),
		zap.String("game_id", gameID.String()),
		zap.String("team_name", name))
	return team, nil
}

// SetGameActive sets the active flag of the game.
func (m *Manager) SetGameActive(ctx context.Context, conn Conn, gameID uuid.UUID, active bool) error {
	err := m.store.SetGameActive(ctx, conn, gameID, active)
	if err != nil {
		return errors.Wrap(err, "set game active", nil)
	}
	conn.MarkGame(gameID)
	return nil
}

// Games lists all games, newest first.
func (m *Manager) Games(ctx context.Context, q store.Querier) ([]store.Game, error) {
	games, err := m.store.Games(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "games", nil)
	}
	return games, nil
}

// GetOrCreateUser retrieves the user record, creating one with defaults on
// first sight. Client identities are self-assigned ids, the first request
// with an unknown id registers the user.
func (m *Manager) GetOrCreateUser(ctx context.Context, conn Conn, userID uuid.UUID) (store.User, error) {
	user, err := m.store.UserByID(ctx, conn, userID)
	if err == nil {
		return user, nil
	}
	richErr, _ := errors.Cast(err)
	if richErr.Code != errors.ErrNotFound {
		return store.User{}, errors.Wrap(err, "user by id", nil)
	}
	user, err = m.store.CreateUser(ctx, conn, userID, "")
	if err != nil {
		return store.User{}, errors.Wrap(err, "create user", nil)
	}
	conn.MarkUser(userID)
	m.logger.Info("user registered", zap.String("user_id", userID.String()))
	return user, nil
}

// SetUserName sets the user's display name.
func (m *Manager) SetUserName(ctx context.Context, conn Conn, userID uuid.UUID, name string) error {
	if name == "" {
		return errors.NewValidationError(errors.KindUnexpected,
			"user name must not be empty", nil)
	}
	err := m.store.UpdateUserName(ctx, conn, userID, name)
	if err != nil {
		return errors.Wrap(err, "update user name", nil)
	}
	conn.MarkUser(userID)
	return nil
}

// TouchUser refreshes the user's last seen timestamp.
func (m *Manager) TouchUser(ctx context.Context, conn Conn, userID uuid.UUID) error {
	err := m.store.UpdateUserLastSeen(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "update user last seen", nil)
	}
	return nil
}

// JoinTeam moves the user into the team and announces it on the game's
// ticker. The user record is created on first sight.
func (m *Manager) JoinTeam(ctx context.Context, conn Conn, userID uuid.UUID, teamID uuid.UUID) error {
	user, err := m.GetOrCreateUser(ctx, conn, userID)
	if err != nil {
		return errors.Wrap(err, "get or create user", nil)
	}
	team, err := m.store.TeamByID(ctx, conn, teamID)
	if err != nil {
		return errors.Wrap(err, "team by id", nil)
	}
	err = m.store.UpdateUserTeam(ctx, conn, userID, uuid.NullUUID{UUID: teamID, Valid: true})
	if err != nil {
		return errors.Wrap(err, "update user team", nil)
	}
	conn.MarkUser(userID)
	err = m.log.Post(ctx, conn, ticker.Message{
		Type: ticker.MessageUserJoinedTeam,
		Fields: map[string]string{
			"user": displayName(user),
			"team": team.Name,
		},
		GameID:          team.GameID,
		HighlightUserID: uuid.NullUUID{UUID: userID, Valid: true},
	})
	if err != nil {
		return errors.Wrap(err, "post join ticker message", nil)
	}
	m.logger.Info("user joined team",
		zap.String("user_id", userID.String()),
		zap.String("team_id", teamID.String()))
	return nil
}

// displayName falls back to a generic name for users that have not set one
// yet.
func displayName(user store.User) string {
	if user.Name == "" {
		return "An unnamed player"
	}
	return user.Name
}

// ResetUser restores the user to a fresh default state: default health, no
// knockout window, default ammo and loadout. Team membership is kept.
func (m *Manager) ResetUser(ctx context.Context, conn Conn, userID uuid.UUID) error {
	err := m.combat.SetHealth(ctx, conn, userID, store.DefaultHitPoints)
	if err != nil {
		return errors.Wrap(err, "set health", nil)
	}
	err = m.store.UpdateUserAmmo(ctx, conn, userID, store.DefaultNumBullets)
	if err != nil {
		return errors.Wrap(err, "update user ammo", nil)
	}
	err = m.store.UpdateUserLoadout(ctx, conn, userID, store.DefaultShotDamage, store.DefaultShotTimeout)
	if err != nil {
		return errors.Wrap(err, "update user loadout", nil)
	}
	conn.MarkUser(userID)
	m.logger.Info("user reset", zap.String("user_id", userID.String()))
	return nil
}

// UserSummary is the public view of a user.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	HitPoints   int       `json:"hit_points"`
	NumBullets  int       `json:"num_bullets"`
	ShotDamage  int       `json:"shot_damage"`
	ShotTimeout float64   `json:"shot_timeout"`
	UpdateTag   int       `json:"update_tag"`
}

// TeamScore is the scoreboard slice for one team.
type TeamScore struct {
	ID    uuid.UUID     `json:"id"`
	Name  string        `json:"name"`
	Users []UserSummary `json:"users"`
}

// Scoreboard is the full read model for one game.
type Scoreboard struct {
	GameID uuid.UUID   `json:"game_id"`
	Active bool        `json:"active"`
	Teams  []TeamScore `json:"teams"`
}

// summarize converts a user record into its public view with the derived
// state at now.
func summarize(user store.User, now time.Time) UserSummary {
	return UserSummary{
		ID:          user.ID,
		Name:        user.Name,
		State:       string(user.State(now)),
		HitPoints:   user.HitPoints,
		NumBullets:  user.NumBullets,
		ShotDamage:  user.ShotDamage,
		ShotTimeout: user.ShotTimeout,
		UpdateTag:   user.UpdateTag,
	}
}

// UserSnapshot returns the public view of a single user.
func (m *Manager) UserSnapshot(ctx context.Context, q store.Querier, userID uuid.UUID) (UserSummary, error) {
	user, err := m.store.UserByID(ctx, q, userID)
	if err != nil {
		return UserSummary{}, errors.Wrap(err, "user by id", nil)
	}
	return summarize(user, time.Now()), nil
}

// GameScoreboard returns the per-team, per-user read model of the game.
func (m *Manager) GameScoreboard(ctx context.Context, q store.Querier, gameID uuid.UUID) (Scoreboard, error) {
	game, err := m.store.GameByID(ctx, q, gameID)
	if err != nil {
		return Scoreboard{}, errors.Wrap(err, "game by id", nil)
	}
	teams, err := m.store.TeamsByGame(ctx, q, gameID)
	if err != nil {
		return Scoreboard{}, errors.Wrap(err, "teams by game", nil)
	}
	now := time.Now()
	scoreboard := Scoreboard{
		GameID: game.ID,
		Active: game.Active,
		Teams:  make([]TeamScore, 0, len(teams)),
	}
	for _, team := range teams {
		members, err := m.store.UsersByTeam(ctx, q, team.ID)
		if err != nil {
			return Scoreboard{}, errors.Wrap(err, "users by team", nil)
		}
		score := TeamScore{
			ID:    team.ID,
			Name:  team.Name,
			Users: make([]UserSummary, 0, len(members)),
		}
		for _, member := range members {
			score.Users = append(score.Users, summarize(member, now))
		}
		scoreboard.Teams = append(scoreboard.Teams, score)
	}
	return scoreboard, nil
}

// interface assertions for the production wiring.
var (
	_ Store        = (*store.Mall)(nil)
	_ CombatEngine = (*combat.Engine)(nil)
	_ TickerLog    = (*ticker.Log)(nil)
)
