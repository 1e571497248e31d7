package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/skirmishgame/skirmish-server/errors"
)

// uniqueViolationCode is the PostgreSQL error code for violated unique
// constraints.
const uniqueViolationCode = "23505"

// Item is the record of a collected item token. It exists from the first
// successful collection on and tracks which users hold the item.
type Item struct {
	// ID is the token id. Created at most once per token.
	ID uuid.UUID
	// Type is the item type from the token.
	Type string
	// Data is the opaque type-specific payload from the token.
	Data json.RawMessage
	// CollectedOnlyOnce reports whether the token was single-use.
	CollectedOnlyOnce bool
	// CollectedAsTeam reports whether holders are associated team-wide.
	CollectedAsTeam bool
	// TimeCreated is when the item was first collected.
	TimeCreated time.Time
}

// CreateItem persists the record of a first collection. A duplicate token id
// returns an ErrConflict error, which callers treat as a concurrent
// collection of the same token.
func (m *Mall) CreateItem(ctx context.Context, q Querier, item Item) error {
	qs, _, err := m.dialect.Insert("items").Rows(goqu.Record{
		"id":                  item.ID,
		"item_type":           item.Type,
		"data":                string(item.Data),
		"collected_only_once": item.CollectedOnlyOnce,
		"collected_as_team":   item.CollectedAsTeam,
		"time_created":        item.TimeCreated,
	}).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == uniqueViolationCode {
			return errors.NewConflictError(errors.KindItemAlreadyCollected,
				"item collected concurrently", errors.Details{"item_id": item.ID})
		}
		return errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewInternalError("item not created", errors.Details{"query": qs})
	}
	return nil
}

// ItemByID retrieves an Item by its token id. The second return value reports
// whether the item exists.
func (m *Mall) ItemByID(ctx context.Context, q Querier, itemID uuid.UUID) (Item, bool, error) {
	qs, _, err := m.dialect.From("items").
		Select(goqu.C("id"),
			goqu.C("item_type"),
			goqu.C("data"),
			goqu.C("collected_only_once"),
			goqu.C("collected_as_team"),
			goqu.C("time_created")).
		Where(goqu.C("id").Eq(itemID)).ToSQL()
	if err != nil {
		return Item{}, false, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return Item{}, false, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		return Item{}, false, nil
	}
	var item Item
	var data string
	err = rows.Scan(&item.ID,
		&item.Type,
		&data,
		&item.CollectedOnlyOnce,
		&item.CollectedAsTeam,
		&item.TimeCreated)
	if err != nil {
		return Item{}, false, errors.NewScanDBRowError(err, "scan row", qs)
	}
	item.Data = json.RawMessage(data)
	return item, true, nil
}

// ItemHolders retrieves the ids of all users associated with the given item.
func (m *Mall) ItemHolders(ctx context.Context, q Querier, itemID uuid.UUID) ([]uuid.UUID, error) {
	qs, _, err := m.dialect.From("item_holders").
		Select(goqu.C("user_id")).
		Where(goqu.C("item_id").Eq(itemID)).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	holders := make([]uuid.UUID, 0)
	for rows.Next() {
		var userID uuid.UUID
		err = rows.Scan(&userID)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		holders = append(holders, userID)
	}
	return holders, nil
}

// AddItemHolder associates the given user with the given item.
func (m *Mall) AddItemHolder(ctx context.Context, q Querier, itemID, userID uuid.UUID) error {
	qs, _, err := m.dialect.Insert("item_holders").Rows(goqu.Record{
		"item_id": itemID,
		"user_id": userID,
	}).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == uniqueViolationCode {
			return errors.NewConflictError(errors.KindItemAlreadyCollected,
				"user already holds item", errors.Details{"item_id": itemID, "user_id": userID})
		}
		return errors.NewExecQueryError(err, "exec query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewInternalError("item holder not added", errors.Details{"query": qs})
	}
	return nil
}
