package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// Default values for newly created users.
const (
	// DefaultHitPoints is the initial health of a user.
	DefaultHitPoints = 1
	// DefaultNumBullets is the initial ammo of a user.
	DefaultNumBullets = 0
	// DefaultShotDamage is the damage of the initial weapon.
	DefaultShotDamage = 1
	// DefaultShotTimeout is the cooldown in seconds of the initial weapon.
	DefaultShotTimeout = 6.0
)

// UserState is the derived lifecycle state of a user.
type UserState string

const (
	// UserStateWaiting means the user has not joined a team yet.
	UserStateWaiting UserState = "waiting"
	// UserStateAlive means the user is in a team and has hit points left.
	UserStateAlive UserState = "alive"
	// UserStateKnockedOut means the user is at zero hit points but still inside
	// the knockout window and can be revived.
	UserStateKnockedOut UserState = "knocked-out"
	// UserStateDead means the knockout window has passed.
	UserStateDead UserState = "dead"
)

// User holds the combat state of one participant.
type User struct {
	// ID identifies the user.
	ID uuid.UUID
	// Name is the self-assigned display name.
	Name string
	// TeamID is the team the user belongs to. Invalid while waiting.
	TeamID uuid.NullUUID
	// HitPoints is the current health. Never negative.
	HitPoints int
	// NumBullets is the current ammo. Never negative.
	NumBullets int
	// ShotDamage is the damage a newly submitted shot carries.
	ShotDamage int
	// ShotTimeout is the weapon cooldown in seconds.
	ShotTimeout float64
	// TimeOfDeath is set exactly when a hit crossed from positive to zero hit
	// points. It marks the end of the knockout window and is never moved by
	// further hits.
	TimeOfDeath nulls.Time
	// UpdateTag changes whenever the user changes.
	UpdateTag int
	// TimeCreated is when the user record was created.
	TimeCreated time.Time
	// LastSeen is the last time the user performed a request.
	LastSeen time.Time
}

// State derives the lifecycle state of the user at the given time.
func (u User) State(now time.Time) UserState {
	if !u.TeamID.Valid {
		return UserStateWaiting
	}
	if u.HitPoints > 0 {
		return UserStateAlive
	}
	if u.TimeOfDeath.Valid && now.Before(u.TimeOfDeath.Time) {
		return UserStateKnockedOut
	}
	return UserStateDead
}

var userColumns = []interface{}{
	goqu.C("id"),
	goqu.C("name"),
	goqu.C("team_id"),
	goqu.C("hit_points"),
	goqu.C("num_bullets"),
	goqu.C("shot_damage"),
	goqu.C("shot_timeout"),
	goqu.C("time_of_death"),
	goqu.C("update_tag"),
	goqu.C("time_created"),
	goqu.C("last_seen"),
}

func scanUser(rows interface {
	Scan(dest ...interface{}) error
}) (User, error) {
	var user User
	err := rows.Scan(&user.ID,
		&user.Name,
		&user.TeamID,
		&user.HitPoints,
		&user.NumBullets,
		&user.ShotDamage,
		&user.ShotTimeout,
		&user.TimeOfDeath,
		&user.UpdateTag,
		&user.TimeCreated,
		&user.LastSeen)
	return user, err
}

// CreateUser creates a new team-less user with default combat values and
// returns it.
func (m *Mall) CreateUser(ctx context.Context, q Querier, userID uuid.UUID, name string) (User, error) {
	now := time.Now()
	user := User{
		ID:          userID,
		Name:        name,
		HitPoints:   DefaultHitPoints,
		NumBullets:  DefaultNumBullets,
		ShotDamage:  DefaultShotDamage,
		ShotTimeout: DefaultShotTimeout,
		UpdateTag:   randomUpdateTag(),
		TimeCreated: now,
		LastSeen:    now,
	}
	qs, _, err := m.dialect.Insert("users").Rows(goqu.Record{
		"id":           user.ID,
		"name":         user.Name,
		"team_id":      user.TeamID,
		"hit_points":   user.HitPoints,
		"num_bullets":  user.NumBullets,
		"shot_damage":  user.ShotDamage,
		"shot_timeout": user.ShotTimeout,
		"update_tag":   user.UpdateTag,
		"time_created": user.TimeCreated,
		"last_seen":    user.LastSeen,
	}).ToSQL()
	if err != nil {
		return User{}, errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return User{}, errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return User{}, errors.NewInternalError("user not created", errors.Details{"query": qs})
	}
	return user, nil
}

// UserByID retrieves a User by its id.
func (m *Mall) UserByID(ctx context.Context, q Querier, userID uuid.UUID) (User, error) {
	qs, _, err := m.dialect.From("users").
		Select(userColumns...).
		Where(goqu.C("id").Eq(userID)).ToSQL()
	if err != nil {
		return User{}, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return User{}, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		return User{}, errors.NewResourceNotFoundError("user not found",
			errors.Details{"user_id": userID})
	}
	user, err := scanUser(rows)
	if err != nil {
		return User{}, errors.NewScanDBRowError(err, "scan row", qs)
	}
	return user, nil
}

// UsersByTeam retrieves all users of the given team in creation order.
func (m *Mall) UsersByTeam(ctx context.Context, q Querier, teamID uuid.UUID) ([]User, error) {
	qs, _, err := m.dialect.From("users").
		Select(userColumns...).
		Where(goqu.C("team_id").Eq(teamID)).
		Order(goqu.C("time_created").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryUsers(ctx, q, qs)
}

// UsersByGame retrieves all users that are in any team of the given game.
func (m *Mall) UsersByGame(ctx context.Context, q Querier, gameID uuid.UUID) ([]User, error) {
	qs, _, err := m.dialect.From("users").
		Select(goqu.I("users.id"),
			goqu.I("users.name"),
			goqu.I("users.team_id"),
			goqu.I("users.hit_points"),
			goqu.I("users.num_bullets"),
			goqu.I("users.shot_damage"),
			goqu.I("users.shot_timeout"),
			goqu.I("users.time_of_death"),
			goqu.I("users.update_tag"),
			goqu.I("users.time_created"),
			goqu.I("users.last_seen")).
		Join(goqu.T("teams"), goqu.On(goqu.I("users.team_id").Eq(goqu.I("teams.id")))).
		Where(goqu.I("teams.game_id").Eq(gameID)).
		Order(goqu.I("users.time_created").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryUsers(ctx, q, qs)
}

// Users retrieves all known users in creation order.
func (m *Mall) Users(ctx context.Context, q Querier) ([]User, error) {
	qs, _, err := m.dialect.From("users").
		Select(userColumns...).
		Order(goqu.C("time_created").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryUsers(ctx, q, qs)
}

func (m *Mall) queryUsers(ctx context.Context, q Querier, qs string) ([]User, error) {
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		users = append(users, user)
	}
	return users, nil
}

// UpdateUserName sets the display name of the user with the given id.
func (m *Mall) UpdateUserName(ctx context.Context, q Querier, userID uuid.UUID, name string) error {
	return m.updateUser(ctx, q, userID, goqu.Record{"name": name})
}

// UpdateUserTeam moves the user with the given id to the given team. An
// invalid team id makes the user team-less.
func (m *Mall) UpdateUserTeam(ctx context.Context, q Querier, userID uuid.UUID, teamID uuid.NullUUID) error {
	return m.updateUser(ctx, q, userID, goqu.Record{"team_id": teamID})
}

// UpdateUserHealth sets hit points and time of death of the user with the
// given id.
func (m *Mall) UpdateUserHealth(ctx context.Context, q Querier, userID uuid.UUID,
	hitPoints int, timeOfDeath nulls.Time) error {
	return m.updateUser(ctx, q, userID, goqu.Record{
		"hit_points":    hitPoints,
		"time_of_death": timeOfDeath,
	})
}

// UpdateUserAmmo sets the ammo of the user with the given id.
func (m *Mall) UpdateUserAmmo(ctx context.Context, q Querier, userID uuid.UUID, numBullets int) error {
	return m.updateUser(ctx, q, userID, goqu.Record{"num_bullets": numBullets})
}

// UpdateUserLoadout sets the weapon stats of the user with the given id.
func (m *Mall) UpdateUserLoadout(ctx context.Context, q Querier, userID uuid.UUID,
	shotDamage int, shotTimeout float64) error {
	return m.updateUser(ctx, q, userID, goqu.Record{
		"shot_damage":  shotDamage,
		"shot_timeout": shotTimeout,
	})
}

// UpdateUserLastSeen sets the last seen timestamp of the user with the given
// id to the current time.
func (m *Mall) UpdateUserLastSeen(ctx context.Context, q Querier, userID uuid.UUID) error {
	return m.updateUser(ctx, q, userID, goqu.Record{"last_seen": time.Now()})
}

// BumpUserUpdateTag sets a fresh update tag on the user with the given id.
func (m *Mall) BumpUserUpdateTag(ctx context.Context, q Querier, userID uuid.UUID) error {
	return m.updateUser(ctx, q, userID, goqu.Record{"update_tag": randomUpdateTag()})
}

func (m *Mall) updateUser(ctx context.Context, q Querier, userID uuid.UUID, record goqu.Record) error {
	qs, _, err := m.dialect.Update("users").Set(record).
		Where(goqu.C("id").Eq(userID)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return errors.NewExecQueryError(err, "exec query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewResourceNotFoundError("user not found",
			errors.Details{"user_id": userID})
	}
	return nil
}

// GameOfUser retrieves the id of the game the user's team belongs to. The
// returned id is invalid for team-less users.
func (m *Mall) GameOfUser(ctx context.Context, q Querier, userID uuid.UUID) (uuid.NullUUID, error) {
	qs, _, err := m.dialect.From("users").
		Select(goqu.I("teams.game_id")).
		Join(goqu.T("teams"), goqu.On(goqu.I("users.team_id").Eq(goqu.I("teams.id")))).
		Where(goqu.I("users.id").Eq(userID)).ToSQL()
	if err != nil {
		return uuid.NullUUID{}, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return uuid.NullUUID{}, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		// Team-less users simply produce no row.
		return uuid.NullUUID{}, nil
	}
	var gameID uuid.UUID
	err = rows.Scan(&gameID)
	if err != nil {
		return uuid.NullUUID{}, errors.NewScanDBRowError(err, "scan row", qs)
	}
	return uuid.NullUUID{UUID: gameID, Valid: true}, nil
}
