// Package ws serves the websocket update feeds. Each connection gets its own
// producer run by the stream package; ws only pumps the produced frames onto
// the wire with pings and write timeouts.
package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/stream"
	"go.uber.org/zap"
)

// Streamer produces frames for one connected client. Satisfied by
// stream.Service.
type Streamer interface {
	// Run produces frames for the user until the context is done or the
	// stream ends itself.
	Run(ctx context.Context, userID uuid.UUID, push chan<- stream.Frame) error
	// RunAdmin produces frames for an admin watcher.
	RunAdmin(ctx context.Context, push chan<- stream.Frame) error
}

// Handler upgrades requests to websocket connections and serves update feeds
// on them.
type Handler struct {
	logger   *zap.Logger
	streams  Streamer
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler serving feeds from the given Streamer.
func NewHandler(logger *zap.Logger, streams Streamer) *Handler {
	return &Handler{
		logger:  logger,
		streams: streams,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeUser serves the update feed of the given user on the request's
// connection. Blocks until the stream or the connection ends.
func (h *Handler) ServeUser(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	h.serve(w, r, func(ctx context.Context, push chan<- stream.Frame) error {
		return h.streams.Run(ctx, userID, push)
	})
}

// ServeAdmin serves the admin update feed on the request's connection.
func (h *Handler) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(ctx context.Context, push chan<- stream.Frame) error {
		return h.streams.RunAdmin(ctx, push)
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, push chan<- stream.Frame) error) {
	connection, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		errors.Log(h.logger, errors.Wrap(err, "upgrade connection", nil))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	f := &feed{
		logger:     h.logger,
		connection: connection,
		frames:     make(chan stream.Frame, 16),
	}
	// The read pump only consumes control messages. It cancels the stream
	// when the peer goes away.
	go f.readPump(cancel)
	go func() {
		defer close(f.frames)
		err := run(ctx, f.frames)
		if err != nil && ctx.Err() == nil {
			errors.Log(h.logger, errors.Wrap(err, "run update stream", nil))
		}
	}()
	f.writePump()
}

var _ Streamer = (*stream.Service)(nil)
