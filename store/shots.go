package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
)

// Shot is the photo evidence a user submitted. Unchecked shots form the FIFO
// moderation queue; a moderator resolves them by assigning a target.
type Shot struct {
	// ID identifies the shot.
	ID uuid.UUID
	// UserID is the creator of the shot.
	UserID uuid.UUID
	// TeamID is the creator's team at submission time.
	TeamID uuid.UUID
	// GameID is the game the shot was submitted in.
	GameID uuid.UUID
	// Image is the base64-encoded photo evidence.
	Image string
	// Damage is the creator's shot damage at the time of firing.
	Damage int
	// Checked reports whether the shot was moderated. Transitions false to true
	// exactly once.
	Checked bool
	// TargetUserID is the user the moderator credited the hit to, if any.
	TargetUserID uuid.NullUUID
	// TimeCreated is when the shot was submitted. Orders the moderation queue.
	TimeCreated time.Time
}

var shotColumns = []interface{}{
	goqu.C("id"),
	goqu.C("user_id"),
	goqu.C("team_id"),
	goqu.C("game_id"),
	goqu.C("image"),
	goqu.C("damage"),
	goqu.C("checked"),
	goqu.C("target_user_id"),
	goqu.C("time_created"),
}

func scanShot(rows interface {
	Scan(dest ...interface{}) error
}) (Shot, error) {
	var shot Shot
	err := rows.Scan(&shot.ID,
		&shot.UserID,
		&shot.TeamID,
		&shot.GameID,
		&shot.Image,
		&shot.Damage,
		&shot.Checked,
		&shot.TargetUserID,
		&shot.TimeCreated)
	return shot, err
}

// CreateShot enqueues a new unchecked shot and returns it.
func (m *Mall) CreateShot(ctx context.Context, q Querier, userID, teamID, gameID uuid.UUID,
	image string, damage int) (Shot, error) {
	shot := Shot{
		ID:          uuid.New(),
		UserID:      userID,
		TeamID:      teamID,
		GameID:      gameID,
		Image:       image,
		Damage:      damage,
		TimeCreated: time.Now(),
	}
	qs, _, err := m.dialect.Insert("shots").Rows(goqu.Record{
		"id":             shot.ID,
		"user_id":        shot.UserID,
		"team_id":        shot.TeamID,
		"game_id":        shot.GameID,
		"image":          shot.Image,
		"damage":         shot.Damage,
		"checked":        false,
		"target_user_id": shot.TargetUserID,
		"time_created":   shot.TimeCreated,
	}).ToSQL()
	if err != nil {
		return Shot{}, errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return Shot{}, errors.NewExecQueryError(err, "exec create query", qs)
	}
	if result.RowsAffected() != 1 {
		return Shot{}, errors.NewInternalError("shot not created", errors.Details{"query": qs})
	}
	return shot, nil
}

// ShotByID retrieves a Shot by its id.
func (m *Mall) ShotByID(ctx context.Context, q Querier, shotID uuid.UUID) (Shot, error) {
	qs, _, err := m.dialect.From("shots").
		Select(shotColumns...).
		Where(goqu.C("id").Eq(shotID)).ToSQL()
	if err != nil {
		return Shot{}, errors.NewQueryToSQLError(err, nil)
	}
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return Shot{}, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	if !rows.Next() {
		return Shot{}, errors.NewResourceNotFoundError("shot not found",
			errors.Details{"shot_id": shotID})
	}
	shot, err := scanShot(rows)
	if err != nil {
		return Shot{}, errors.NewScanDBRowError(err, "scan row", qs)
	}
	return shot, nil
}

// UncheckedShots retrieves up to limit unchecked shots in submission order
// along with the total queue length.
func (m *Mall) UncheckedShots(ctx context.Context, q Querier, limit int) ([]Shot, int, error) {
	// Count the whole queue first.
	qs, _, err := m.dialect.From("shots").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("checked").IsFalse()).ToSQL()
	if err != nil {
		return nil, 0, errors.NewQueryToSQLError(err, nil)
	}
	var total int
	err = q.QueryRow(ctx, qs).Scan(&total)
	if err != nil {
		return nil, 0, errors.NewScanDBRowError(err, "scan queue length", qs)
	}
	// Retrieve the oldest entries.
	qs, _, err = m.dialect.From("shots").
		Select(shotColumns...).
		Where(goqu.C("checked").IsFalse()).
		Order(goqu.C("time_created").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).ToSQL()
	if err != nil {
		return nil, 0, errors.NewQueryToSQLError(err, nil)
	}
	shots, err := m.queryShots(ctx, q, qs)
	if err != nil {
		return nil, 0, err
	}
	return shots, total, nil
}

// UncheckedShotsByCreator retrieves all unchecked shots of the given user in
// submission order.
func (m *Mall) UncheckedShotsByCreator(ctx context.Context, q Querier, userID uuid.UUID) ([]Shot, error) {
	qs, _, err := m.dialect.From("shots").
		Select(shotColumns...).
		Where(goqu.C("checked").IsFalse(),
			goqu.C("user_id").Eq(userID)).
		Order(goqu.C("time_created").Asc(), goqu.C("id").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, nil)
	}
	return m.queryShots(ctx, q, qs)
}

func (m *Mall) queryShots(ctx context.Context, q Querier, qs string) ([]Shot, error) {
	rows, err := q.Query(ctx, qs)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", qs)
	}
	defer rows.Close()
	shots := make([]Shot, 0)
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", qs)
		}
		shots = append(shots, shot)
	}
	return shots, nil
}

// MarkShotChecked marks the shot with the given id as checked and records the
// optional target. The update only applies to unchecked shots so that the
// false-to-true transition happens at most once; a miss returns an
// ErrConflict error.
func (m *Mall) MarkShotChecked(ctx context.Context, q Querier, shotID uuid.UUID,
	targetUserID uuid.NullUUID) error {
	qs, _, err := m.dialect.Update("shots").Set(goqu.Record{
		"checked":        true,
		"target_user_id": targetUserID,
	}).Where(goqu.C("id").Eq(shotID),
		goqu.C("checked").IsFalse()).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, nil)
	}
	result, err := q.Exec(ctx, qs)
	if err != nil {
		return errors.NewExecQueryError(err, "exec query", qs)
	}
	if result.RowsAffected() != 1 {
		return errors.NewConflictError(errors.KindShotAlreadyChecked,
			"shot already checked or unknown", errors.Details{"shot_id": shotID})
	}
	return nil
}
