package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/stream"
	"go.uber.org/zap"
)

const (
	// writeTimeout is the timeout for writing a message to the peer.
	writeTimeout = 10 * time.Second
	// pingInterval is the interval in which pings are sent to the peer. Must be
	// less than pongTimeout.
	pingInterval = (pongTimeout * 9) / 10
	// pongTimeout is the timeout for waiting for the next pong message from the
	// peer. Must be greater than pingInterval.
	pongTimeout = 60 * time.Second
	// maxMessageSize is the maximum message size allowed from peer. The feed is
	// one-directional, clients only ever send control messages.
	maxMessageSize = 512
)

// feed holds one websocket connection together with its frame channel.
type feed struct {
	logger *zap.Logger
	// connection is the actual websocket connection.
	connection *websocket.Conn
	// frames carries the produced frames to the write pump. Closed by the
	// producer when the stream ends.
	frames chan stream.Frame
}

// readPump consumes the connection until the peer goes away, then cancels the
// stream. Payload messages are discarded, the feed is write-only.
func (f *feed) readPump(cancel func()) {
	defer cancel()
	f.connection.SetReadLimit(maxMessageSize)
	_ = f.connection.SetReadDeadline(time.Now().Add(pongTimeout))
	// Handle received pong.
	f.connection.SetPongHandler(func(string) error {
		_ = f.connection.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, _, err := f.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.logger.Debug("unexpected close", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards frames to the websocket connection until the frame
// channel is closed, then writes a close message and shuts the connection
// down.
func (f *feed) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		// Stop ping ticker in order to avoid ticker leak.
		pingTicker.Stop()
		err := f.connection.Close()
		if err != nil {
			f.logger.Debug("close connection", zap.Error(err))
		}
	}()
	for {
		select {
		case frame, ok := <-f.frames:
			_ = f.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			// Stream ended, say goodbye.
			if !ok {
				err := f.connection.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil {
					f.logger.Debug("write close message", zap.Error(err))
				}
				return
			}
			message, err := json.Marshal(frame)
			if err != nil {
				errors.Log(f.logger, errors.Error{
					Code:    errors.ErrInternal,
					Kind:    errors.KindEncodeJSON,
					Err:     err,
					Message: "marshal frame",
				})
				return
			}
			err = f.connection.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				// We expect the read pump to fail as well.
				f.logger.Debug("write frame", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			// Send ping.
			_ = f.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := f.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Debug("write ping", zap.Error(err))
				return
			}
		}
	}
}
