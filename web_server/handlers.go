package web_server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/skirmishgame/skirmish-server/combat"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/item"
	"github.com/skirmishgame/skirmish-server/roster"
	"github.com/skirmishgame/skirmish-server/scope"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/ticker"
	"github.com/skirmishgame/skirmish-server/ws"
	"go.uber.org/zap"
)

// DefaultTickerLimit is the number of ticker entries returned when the client
// does not pass a limit.
const DefaultTickerLimit = 32

// Dependencies bundles everything the API handlers operate on.
type Dependencies struct {
	Logger   *zap.Logger
	Sessions *scope.Factory
	// Pool is used for read-only paths that do not need a scope session.
	Pool   store.Querier
	Mall   *store.Mall
	Roster *roster.Manager
	Combat *combat.Engine
	Items  *item.Ledger
	Ticker *ticker.Log
	// Updates serves the websocket feeds.
	Updates *ws.Handler
	// ItemBaseURL is the base address minted item URLs point to.
	ItemBaseURL string
}

// handlers holds the Dependencies for the route handler methods.
type handlers struct {
	Dependencies
}

// withSession runs fn inside a fresh scope session. The session commits when
// fn succeeds and rolls back when it fails.
func (h *handlers) withSession(ctx context.Context, fn func(session *scope.Session) error) (err error) {
	session := h.Sessions.Session()
	err = session.Enter(ctx)
	if err != nil {
		return errors.Wrap(err, "enter scope", nil)
	}
	defer session.Exit(ctx, &err)
	err = fn(session)
	return
}

// respondJSON writes the payload as JSON response.
func (h *handlers) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		errors.Log(h.Logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "encode response",
		})
	}
}

// errorResponse is the JSON body of failed requests.
type errorResponse struct {
	Error string      `json:"error"`
	Kind  errors.Kind `json:"kind"`
}

// respondError translates the error to its HTTP status. User-blamable errors
// expose message and kind, server-side failures are logged and hidden.
func (h *handlers) respondError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	response := errorResponse{Error: "internal server error"}
	if errors.BlameUser(err) {
		richErr, _ := errors.Cast(err)
		response.Error = richErr.Message
		response.Kind = richErr.Kind
	} else {
		errors.Log(h.Logger, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// parseBody decodes the request body as JSON into target.
func parseBody(r *http.Request, target interface{}) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		return errors.NewValidationErrorFromErr(errors.KindDecodeJSON, err, "parse request body")
	}
	return nil
}

// pathUUID extracts the uuid path variable with the given name.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.NewValidationErrorFromErr(errors.KindMalformedID, err,
			"parse "+name)
	}
	return id, nil
}

// identify extracts the caller's user id from the uid query parameter.
// Clients self-assign their id, the first request registers the user.
func identify(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("uid")
	if raw == "" {
		return uuid.UUID{}, errors.NewValidationError(errors.KindMalformedID,
			"missing uid parameter", nil)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.NewValidationErrorFromErr(errors.KindMalformedID, err,
			"parse uid parameter")
	}
	return userID, nil
}

// queryLimit extracts the limit query parameter, falling back to the given
// default.
func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// handleGetUser returns the caller's own state, registering unknown users on
// first sight.
func (h *handlers) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var summary roster.UserSummary
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		_, err := h.Roster.GetOrCreateUser(r.Context(), session, userID)
		if err != nil {
			return errors.Wrap(err, "get or create user", nil)
		}
		err = h.Roster.TouchUser(r.Context(), session, userID)
		if err != nil {
			return errors.Wrap(err, "touch user", nil)
		}
		summary, err = h.Roster.UserSnapshot(r.Context(), session, userID)
		if err != nil {
			return errors.Wrap(err, "user snapshot", nil)
		}
		return nil
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, summary)
}

// handleSetUserName sets the caller's display name.
func (h *handlers) handleSetUserName(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Name string `json:"name"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		_, err := h.Roster.GetOrCreateUser(r.Context(), session, userID)
		if err != nil {
			return errors.Wrap(err, "get or create user", nil)
		}
		return h.Roster.SetUserName(r.Context(), session, userID, request.Name)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleJoinTeam moves the caller into the requested team.
func (h *handlers) handleJoinTeam(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		TeamID uuid.UUID `json:"team_id"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Roster.JoinTeam(r.Context(), session, userID, request.TeamID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleSubmitShot enqueues the caller's photo evidence for moderation.
func (h *handlers) handleSubmitShot(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Image string `json:"image"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var shot store.Shot
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		shot, err = h.Combat.SubmitShot(r.Context(), session, userID, request.Image)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct {
		ShotID uuid.UUID `json:"shot_id"`
	}{ShotID: shot.ID})
}

// handleCollectItem redeems an item token for the caller. The token may be
// passed raw or as full item URL.
func (h *handlers) handleCollectItem(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Token string `json:"token"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Items.Collect(r.Context(), session, userID, request.Token)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// tickerEntryResponse is the JSON view of one ticker entry.
type tickerEntryResponse struct {
	ID              int64         `json:"id"`
	Message         string        `json:"message"`
	Private         bool          `json:"private"`
	HighlightUserID uuid.NullUUID `json:"highlight_user_id"`
	TimeCreated     time.Time     `json:"time_created"`
}

func tickerEntriesResponse(entries []store.TickerEntry) []tickerEntryResponse {
	response := make([]tickerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, tickerEntryResponse{
			ID:              entry.ID,
			Message:         entry.Message,
			Private:         entry.PrivateUserID.Valid,
			HighlightUserID: entry.HighlightUserID,
			TimeCreated:     entry.TimeCreated,
		})
	}
	return response
}

// handleGetTicker returns the newest ticker entries of the caller's game that
// are visible to the caller. Users without a game see an empty ticker.
func (h *handlers) handleGetTicker(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	gameID, err := h.Mall.GameOfUser(r.Context(), h.Pool, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	entries := make([]store.TickerEntry, 0)
	if gameID.Valid {
		entries, err = h.Ticker.Recent(r.Context(), h.Pool, gameID.UUID, userID,
			queryLimit(r, DefaultTickerLimit))
		if err != nil {
			h.respondError(w, err)
			return
		}
	}
	h.respondJSON(w, tickerEntriesResponse(entries))
}

// handleScoreboard returns the per-team, per-user view of the game.
func (h *handlers) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	scoreboard, err := h.Roster.GameScoreboard(r.Context(), h.Pool, gameID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, scoreboard)
}

// handleUpdates serves the caller's websocket update feed.
func (h *handlers) handleUpdates(w http.ResponseWriter, r *http.Request) {
	userID, err := identify(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.Updates.ServeUser(w, r, userID)
}

// handleAdminUpdates serves the admin websocket update feed.
func (h *handlers) handleAdminUpdates(w http.ResponseWriter, r *http.Request) {
	h.Updates.ServeAdmin(w, r)
}
