package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/scope"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/trigger"
	"go.uber.org/zap"
)

// newSessionFactory wires the production scope hooks: before the commit of a
// dirty session the update tags of all marked users and games are bumped,
// after the commit the matching refresh signals fire. Admins watch all ticker
// activity, so any marked game also fires the admin signal.
func newSessionFactory(logger *zap.Logger, pool *pgxpool.Pool, mall *store.Mall,
	triggers *trigger.Registry) *scope.Factory {
	hooks := scope.Hooks{
		Precommit: func(ctx context.Context, session *scope.Session) error {
			for _, userID := range session.MarkedUsers() {
				err := mall.BumpUserUpdateTag(ctx, session, userID)
				if err != nil {
					return errors.Wrap(err, "bump user update tag",
						errors.Details{"user_id": userID})
				}
			}
			for _, gameID := range session.MarkedGames() {
				err := mall.BumpGameUpdateTag(ctx, session, gameID)
				if err != nil {
					return errors.Wrap(err, "bump game update tag",
						errors.Details{"game_id": gameID})
				}
			}
			return nil
		},
		Postcommit: func(ctx context.Context, session *scope.Session) {
			for _, userID := range session.MarkedUsers() {
				triggers.Fire(trigger.KindUser, userID)
			}
			for _, gameID := range session.MarkedGames() {
				triggers.Fire(trigger.KindTicker, gameID)
			}
			if len(session.MarkedGames()) > 0 {
				triggers.Fire(trigger.KindAdmin, uuid.Nil)
			}
		},
	}
	return scope.NewFactory(logger, scope.PoolDB{Pool: pool}, hooks)
}
