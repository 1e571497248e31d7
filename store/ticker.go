package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// TickerEntry is one immutable message in a game's event ticker. Entries are
// append-only and ordered by their insertion sequence.
type TickerEntry struct {
	// ID is the insertion sequence number.
	ID int64
	// GameID is the game whose ticker the entry belongs to.
	GameID uuid.UUID
	// Message is the rendered message text.
	Message string
	// PrivateUserID limits visibility to the given user. Invalid means public.
	PrivateUserID uuid.NullUUID
	// HighlightUserID marks the user the entry is about, for client-side
	// highlighting.
	HighlightUserID uuid.NullUUID
	// TimeCreated is when the entry was appended.
	TimeCreated time.Time
}

var tickerColumns = []interface{}{
	goqu.C("id"),
	goqu.C("game_id"),
	goqu.C("message"),
	goqu.C("private_user_id"),
	goqu.C("highlight_user_id"),
	goqu.C("time_created"),
}

func scanTickerEntry(rows interface {
	Scan(dest ...interface{}) error
}) (TickerEntry, error) {
	var entry TickerEntry
	err := rows.Scan(&entry.ID,
		&entry.GameID,
		&entry.Message,
		&entry.PrivateUserID,
		&entry.HighlightUserID,
		&entry.TimeCreated)
	return entry, err
}

// CreateTickerEntry appends an entry to the game's ticker.
func (m *Mall) CreateTickerEntry(ctx context.Context, q Querier, entry TickerEntry) error {
	qs, _, err := m.dialect.Insert("ticker_entries").Rows(goqu.Record{
		"game_id":           entry.GameID,
		"message":           entry.Message,
		"private_user_id":   entry.PrivateUserID,
		"highlight_user_id": entry.HighlightUserID,
		"time_created":      time.Now(),
	}).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewInternalError("ticker entry not created", errors.Details{"query": qs})
	}
	return nil
}

// TickerEntriesVisibleTo retrieves up to limit newest-first ticker entries of
// the given game that the given user may see: public entries plus the user's
// own private ones.
func (m *Mall) TickerEntriesVisibleTo(ctx context.Context, q Querier, gameID uuid.UUID,
	userID uuid.UUID, limit int) ([]TickerEntry, error) {
	qs, _, err := m.dialect.From("ticker_entries").
		Select(tickerColumns...).
		Where(goqu.C("game_id").Eq(gameID),
			goqu.Or(goqu.C("private_user_id").IsNull(),
				goqu.C("private_user_id").Eq(userID))).
		Order(goqu.C("id").Desc()).
		Limit(uint(limit)).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryTickerEntries(ctx, q, qs)
}

// TickerEntriesByGame retrieves up to limit newest-first ticker entries of
// the given game including private ones. Used by the admin surface.
func (m *Mall) TickerEntriesByGame(ctx context.Context, q Querier, gameID uuid.UUID,
	limit int) ([]TickerEntry, error) {
	qs, _, err := m.dialect.From("ticker_entries").
		Select(tickerColumns...).
		Where(goqu.C("game_id").Eq(gameID)).
		Order(goqu.C("id").Desc()).
		Limit(uint(limit)).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryTickerEntries(ctx, q, qs)
}

func (m *Mall) queryTickerEntries(ctx context.Context, q Querier, qs string) ([]TickerEntry, error) {
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	entries := make([]TickerEntry, 0)
	for rows.Next() {
		entry, err := scanTickerEntry(rows)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
