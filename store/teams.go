package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// Team is a named group of users inside exactly one game.
type Team struct {
	// ID identifies the team.
	ID uuid.UUID
	// Name is the human-readable team name.
	Name string
	// GameID is the game the team belongs to.
	GameID uuid.UUID
	// TimeCreated is when the team was created.
	TimeCreated time.Time
}

var teamColumns = []interface{}{
	goqu.C("id"),
	goqu.C("name"),
	goqu.C("game_id"),
	goqu.C("time_created"),
}

func scanTeam(rows interface {
	Scan(dest ...interface{}) error
}) (Team, error) {
	var team Team
	err := rows.Scan(&team.ID,
		&team.Name,
		&team.GameID,
		&team.TimeCreated)
	return team, err
}

// CreateTeam creates a new team in the given game and returns it.
func (m *Mall) CreateTeam(ctx context.Context, q Querier, gameID uuid.UUID, name string) (Team, error) {
	team := Team{
		ID:          uuid.New(),
		Name:        name,
		GameID:      gameID,
		TimeCreated: time.Now(),
	}
	qs, _, err := m.dialect.Insert("teams").Rows(goqu.Record{
		"id":           team.ID,
		"name":         team.Name,
		"game_id":      team.GameID,
		"time_created": team.TimeCreated,
	}).ToSQL()
	if err != nil {
		return Team{}, errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return Team{}, errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return Team{}, errors.NewInternalError("team not created", errors.Details{"query": qs})
	}
	return team, nil
}

// TeamByID retrieves a Team by its id.
func (m *Mall) TeamByID(ctx context.Context, q Querier, teamID uuid.UUID) (Team, error) {
	qs, _, err := m.dialect.From("teams").
		Select(teamColumns...).
		Where(goqu.C("id").Eq(teamID)).ToSQL()
	if err != nil {
		return Team{}, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return Team{}, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		return Team{}, errors.NewResourceNotFoundError("team not found",
			errors.Details{"team_id": teamID})
	}
	team, err := scanTeam(rows)
	if err != nil {
		return Team{}, errors.NewScanDBRowError(err, "scan row", qs)
	}
	return team, nil
}

// TeamsByGame retrieves all teams of the given game in creation order.
func (m *Mall) TeamsByGame(ctx context.Context, q Querier, gameID uuid.UUID) ([]Team, error) {
	qs, _, err := m.dialect.From("teams").
		Select(teamColumns...).
		Where(goqu.C("game_id").Eq(gameID)).
		Order(goqu.C("time_created").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	teams := make([]Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		teams = append(teams, team)
	}
	return teams, nil
}
