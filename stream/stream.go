// Package stream implements the per-client update feed. A stream multiplexes
// several producers (user changes, ticker changes, membership changes,
// keepalives) into one ordered sequence of frames. Frames carry no payload
// beyond naming what changed, clients re-fetch authoritative state when
// prompted.
package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/trigger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultKeepaliveInterval is how often keepalive frames are pushed
	// regardless of other activity.
	DefaultKeepaliveInterval = 15 * time.Second
	// DefaultWaitTimeout is how long a producer waits on a trigger signal
	// before pushing a refresh prompt anyway and resubscribing.
	DefaultWaitTimeout = 60 * time.Second
)

// Frame is one discrete message pushed to the client.
type Frame struct {
	// Handler names the client-side handler for the frame.
	Handler string `json:"handler"`
	// Data is the handler-specific payload, if any.
	Data interface{} `json:"data,omitempty"`
}

// Prompt frames for the different refresh targets.
func userPromptFrame() Frame {
	return Frame{Handler: "update_prompt", Data: "user"}
}

func tickerPromptFrame() Frame {
	return Frame{Handler: "update_prompt", Data: "ticker"}
}

func adminPromptFrame() Frame {
	return Frame{Handler: "update_prompt", Data: "admin"}
}

func keepaliveFrame(counter int) Frame {
	return Frame{Handler: "keepalive", Data: counter}
}

func reconnectFrame() Frame {
	return Frame{Handler: "reconnect"}
}

// target tags messages in the shared producer channel.
type target int

const (
	targetUser target = iota
	targetTicker
	targetKeepalive
	targetReconnect
)

// update is one tagged message from a producer.
type update struct {
	target target
	// counter is only set for keepalives.
	counter int
}

// Store covers the database operations streams perform.
type Store interface {
	// UserByID retrieves the store.User with the given id.
	UserByID(ctx context.Context, q store.Querier, userID uuid.UUID) (store.User, error)
	// GameOfUser resolves the game the user currently plays in.
	GameOfUser(ctx context.Context, q store.Querier, userID uuid.UUID) (uuid.NullUUID, error)
}

// Triggers is the trigger access streams need. Satisfied by
// trigger.Registry.
type Triggers interface {
	// Get returns the current signal for the key, creating one if absent.
	Get(kind trigger.Kind, id uuid.UUID) <-chan struct{}
}

// Service produces update streams for connected clients.
type Service struct {
	logger   *zap.Logger
	store    Store
	pool     store.Querier
	triggers Triggers
	// waitTimeout bounds every trigger wait.
	waitTimeout time.Duration
	// keepaliveInterval paces the keepalive producer.
	keepaliveInterval time.Duration
}

// NewService creates a stream Service. Non-positive durations fall back to
// the defaults.
func NewService(logger *zap.Logger, s Store, pool store.Querier, triggers Triggers,
	waitTimeout time.Duration, keepaliveInterval time.Duration) *Service {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = DefaultKeepaliveInterval
	}
	return &Service{
		logger:            logger,
		store:             s,
		pool:              pool,
		triggers:          triggers,
		waitTimeout:       waitTimeout,
		keepaliveInterval: keepaliveInterval,
	}
}

// Run streams update frames for the given user into push until ctx is done
// or the user's membership changes. In the latter case a terminal reconnect
// frame is pushed and the stream ends so the client resubscribes with fresh
// state. All producers are cancelled before Run returns.
func (s *Service) Run(ctx context.Context, userID uuid.UUID, push chan<- Frame) error {
	user, err := s.store.UserByID(ctx, s.pool, userID)
	if err != nil {
		return errors.Wrap(err, "user by id", nil)
	}
	initialTeamID := user.TeamID
	gameID, err := s.store.GameOfUser(ctx, s.pool, userID)
	if err != nil {
		return errors.Wrap(err, "game of user", nil)
	}
	// Clients refresh everything on connect.
	err = s.push(ctx, push, userPromptFrame())
	if err != nil {
		return err
	}
	err = s.push(ctx, push, tickerPromptFrame())
	if err != nil {
		return err
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	updates := make(chan update, 16)
	producers, producerCtx := errgroup.WithContext(streamCtx)
	producers.Go(func() error {
		return s.promptProducer(producerCtx, updates, targetUser, trigger.KindUser, userID)
	})
	if gameID.Valid {
		producers.Go(func() error {
			return s.promptProducer(producerCtx, updates, targetTicker, trigger.KindTicker, gameID.UUID)
		})
	}
	producers.Go(func() error {
		return s.membershipProducer(producerCtx, updates, userID, initialTeamID)
	})
	producers.Go(func() error {
		return s.keepaliveProducer(producerCtx, updates)
	})

	defer func() {
		cancelStream()
		// Producers only block on the context-guarded channel send, so this
		// terminates promptly.
		_ = producers.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			switch u.target {
			case targetUser:
				err = s.push(ctx, push, userPromptFrame())
			case targetTicker:
				err = s.push(ctx, push, tickerPromptFrame())
			case targetKeepalive:
				err = s.push(ctx, push, keepaliveFrame(u.counter))
			case targetReconnect:
				// Terminal: stale subscriptions to the old team's ticker must
				// not linger.
				_ = s.push(ctx, push, reconnectFrame())
				s.logger.Debug("membership changed, ending stream",
					zap.String("user_id", userID.String()))
				return nil
			}
			if err != nil {
				return nil
			}
		}
	}
}

// RunAdmin streams admin update frames into push until ctx is done. Any
// change in any game prompts a refresh.
func (s *Service) RunAdmin(ctx context.Context, push chan<- Frame) error {
	err := s.push(ctx, push, adminPromptFrame())
	if err != nil {
		return nil
	}
	for {
		signal := s.triggers.Get(trigger.KindAdmin, uuid.Nil)
		select {
		case <-ctx.Done():
			return nil
		case <-signal:
		case <-time.After(s.waitTimeout):
		}
		err = s.push(ctx, push, adminPromptFrame())
		if err != nil {
			return nil
		}
	}
}

// push sends the frame unless ctx ends first.
func (s *Service) push(ctx context.Context, push chan<- Frame, frame Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case push <- frame:
		return nil
	}
}

// promptProducer repeatedly subscribes to the trigger key and forwards a
// tagged message on every fire or wait timeout. Resubscription happens after
// every fire because consumed signals are deleted from the registry.
func (s *Service) promptProducer(ctx context.Context, updates chan<- update,
	t target, kind trigger.Kind, id uuid.UUID) error {
	for {
		signal := s.triggers.Get(kind, id)
		select {
		case <-ctx.Done():
			return nil
		case <-signal:
		case <-time.After(s.waitTimeout):
		}
		select {
		case <-ctx.Done():
			return nil
		case updates <- update{target: t}:
		}
	}
}

// membershipProducer watches whether the user's team assignment changed since
// stream start and emits a terminal reconnect message when it did.
func (s *Service) membershipProducer(ctx context.Context, updates chan<- update,
	userID uuid.UUID, initialTeamID uuid.NullUUID) error {
	for {
		signal := s.triggers.Get(trigger.KindUser, userID)
		select {
		case <-ctx.Done():
			return nil
		case <-signal:
		case <-time.After(s.waitTimeout):
		}
		user, err := s.store.UserByID(ctx, s.pool, userID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errors.Log(s.logger, errors.Wrap(err, "check membership", nil))
			continue
		}
		if user.TeamID == initialTeamID {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case updates <- update{target: targetReconnect}:
		}
		return nil
	}
}

// keepaliveProducer emits a counted keepalive message on a fixed interval.
func (s *Service) keepaliveProducer(ctx context.Context, updates chan<- update) error {
	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()
	counter := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		select {
		case <-ctx.Done():
			return nil
		case updates <- update{target: targetKeepalive, counter: counter}:
		}
		counter++
	}
}

// assert the production registry satisfies Triggers.
var _ Triggers = (*trigger.Registry)(nil)
