package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// Game holds the top-level state of one running game.
type Game struct {
	// ID identifies the game.
	ID uuid.UUID
	// Active reports whether actions are currently allowed in the game.
	Active bool
	// UpdateTag changes whenever any visible state in the game changes.
	UpdateTag int
	// TimeCreated is when the game was created.
	TimeCreated time.Time
}

var gameColumns = []interface{}{
	goqu.C("id"),
	goqu.C("active"),
	goqu.C("update_tag"),
	goqu.C("time_created"),
}

func scanGame(rows interface {
	Scan(dest ...interface{}) error
}) (Game, error) {
	var game Game
	err := rows.Scan(&game.ID,
		&game.Active,
		&game.UpdateTag,
		&game.TimeCreated)
	return game, err
}

// CreateGame creates a new active game and returns it.
func (m *Mall) CreateGame(ctx context.Context, q Querier) (Game, error) {
	game := Game{
		ID:          uuid.New(),
		Active:      true,
		UpdateTag:   randomUpdateTag(),
		TimeCreated: time.Now(),
	}
	// Build query.
	qs, _, err := m.dialect.Insert("games").Rows(goqu.Record{
		"id":           game.ID,
		"active":       game.Active,
		"update_tag":   game.UpdateTag,
		"time_created": game.TimeCreated,
	}).ToSQL()
	if err != nil {
		return Game{}, errors.NewQueryToSQLError(err, nil)
	}
	// Exec.
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return Game{}, errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return Game{}, errors.NewInternalError("game not created", errors.Details{"query": qs})
	}
	return game, nil
}

// GameByID retrieves a Game by its id.
func (m *Mall) GameByID(ctx context.Context, q Querier, gameID uuid.UUID) (Game, error) {
	qs, _, err := m.dialect.From("games").
		Select(gameColumns...).
		Where(goqu.C("id").Eq(gameID)).ToSQL()
	if err != nil {
		return Game{}, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return Game{}, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		return Game{}, errors.NewResourceNotFoundError("game not found",
			errors.Details{"game_id": gameID})
	}
	game, err := scanGame(rows)
	if err != nil {
		return Game{}, errors.NewScanDBRowError(err, "scan row", qs)
	}
	return game, nil
}

// Games retrieves all games, newest first.
func (m *Mall) Games(ctx context.Context, q Querier) ([]Game, error) {
	qs, _, err := m.dialect.From("games").
		Select(gameColumns...).
		Order(goqu.C("time_created").Desc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	games := make([]Game, 0)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		games = append(games, game)
	}
	return games, nil
}

// SetGameActive sets the active flag of the game with the given id.
func (m *Mall) SetGameActive(ctx context.Context, q Querier, gameID uuid.UUID, active bool) error {
	qs, _, err := m.dialect.Update("games").Set(goqu.Record{
		"active": active,
	}).Where(goqu.C("id").Eq(gameID)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return errors.NewExecQueryError(err, "exec query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewResourceNotFoundError("game not found",
			errors.Details{"game_id": gameID})
	}
	return nil
}

// BumpGameUpdateTag sets a fresh update tag on the game with the given id.
func (m *Mall) BumpGameUpdateTag(ctx context.Context, q Querier, gameID uuid.UUID) error {
	qs, _, err := m.dialect.Update("games").Set(goqu.Record{
		"update_tag": randomUpdateTag(),
	}).Where(goqu.C("id").Eq(gameID)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return errors.NewExecQueryError(err, "exec query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewResourceNotFoundError("game not found",
			errors.Details{"game_id": gameID})
	}
	return nil
}
