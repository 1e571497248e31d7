package web_server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/skirmishgame/skirmish-server/item"
	"github.com/skirmishgame/skirmish-server/scope"
	"github.com/skirmishgame/skirmish-server/store"
)

// DefaultShotQueueLimit is the number of unchecked shots returned when the
// moderator does not pass a limit.
const DefaultShotQueueLimit = 16

// handleCreateGame creates a fresh, active game.
func (h *handlers) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var game store.Game
	err := h.withSession(r.Context(), func(session *scope.Session) error {
		var err error
		game, err = h.Roster.CreateGame(r.Context(), session)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct {
		GameID uuid.UUID `json:"game_id"`
	}{GameID: game.ID})
}

// handleListGames lists all games, newest first.
func (h *handlers) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.Roster.Games(r.Context(), h.Pool)
	if err != nil {
		h.respondError(w, err)
		return
	}
	type gameResponse struct {
		ID     uuid.UUID `json:"id"`
		Active bool      `json:"active"`
	}
	response := make([]gameResponse, 0, len(games))
	for _, game := range games {
		response = append(response, gameResponse{ID: game.ID, Active: game.Active})
	}
	h.respondJSON(w, response)
}

// handleSetGameActive sets the active flag of the game.
func (h *handlers) handleSetGameActive(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Active bool `json:"active"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Roster.SetGameActive(r.Context(), session, gameID, request.Active)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleCreateTeam creates a team in the game.
func (h *handlers) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
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
	var team store.Team
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		team, err = h.Roster.CreateTeam(r.Context(), session, gameID, request.Name)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct {
		TeamID uuid.UUID `json:"team_id"`
	}{TeamID: team.ID})
}

// handleAddUserToTeam moves the given user into the team, creating the user
// record on first sight.
func (h *handlers) handleAddUserToTeam(w http.ResponseWriter, r *http.Request) {
	teamID, err := pathUUID(r, "teamID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		UserID uuid.UUID `json:"user_id"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Roster.JoinTeam(r.Context(), session, request.UserID, teamID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleShotQueue returns the oldest unchecked shots together with the total
// queue length.
func (h *handlers) handleShotQueue(w http.ResponseWriter, r *http.Request) {
	shots, total, err := h.Combat.UncheckedShots(r.Context(), h.Pool,
		queryLimit(r, DefaultShotQueueLimit))
	if err != nil {
		h.respondError(w, err)
		return
	}
	type shotResponse struct {
		ID          uuid.UUID `json:"id"`
		UserID      uuid.UUID `json:"user_id"`
		TeamID      uuid.UUID `json:"team_id"`
		Image       string    `json:"image"`
		Damage      int       `json:"damage"`
		TimeCreated string    `json:"time_created"`
	}
	queue := make([]shotResponse, 0, len(shots))
	for _, shot := range shots {
		queue = append(queue, shotResponse{
			ID:          shot.ID,
			UserID:      shot.UserID,
			TeamID:      shot.TeamID,
			Image:       shot.Image,
			Damage:      shot.Damage,
			TimeCreated: shot.TimeCreated.Format(time.RFC3339),
		})
	}
	h.respondJSON(w, struct {
		Shots []shotResponse `json:"shots"`
		Total int            `json:"total"`
	}{Shots: queue, Total: total})
}

// handleResolveShot adjudicates a shot. A missing target dismisses the shot.
func (h *handlers) handleResolveShot(w http.ResponseWriter, r *http.Request) {
	shotID, err := pathUUID(r, "shotID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		TargetUserID uuid.NullUUID `json:"target_user_id"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Combat.ResolveShot(r.Context(), session, shotID, request.TargetUserID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminHit applies damage to the user.
func (h *handlers) handleAdminHit(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Amount int `json:"amount"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		_, err := h.Combat.AdminHit(r.Context(), session, userID, request.Amount)
		return err
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminKill kills the user outright.
func (h *handlers) handleAdminKill(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Combat.AdminKill(r.Context(), session, userID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminGiveAmmo awards ammo to the user.
func (h *handlers) handleAdminGiveAmmo(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Num int `json:"num"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Combat.AdminGiveAmmo(r.Context(), session, userID, request.Num)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminGiveArmour puts the user into the given armour level.
func (h *handlers) handleAdminGiveArmour(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var request struct {
		Level int `json:"level"`
	}
	err = parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Combat.AdminGiveArmour(r.Context(), session, userID, request.Level)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminRevive brings the user back with default health.
func (h *handlers) handleAdminRevive(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Combat.AdminRevive(r.Context(), session, userID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleAdminResetUser restores the user to a fresh default state.
func (h *handlers) handleAdminResetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	err = h.withSession(r.Context(), func(session *scope.Session) error {
		return h.Roster.ResetUser(r.Context(), session, userID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct{}{})
}

// handleMintItem creates a signed item token of the requested type.
func (h *handlers) handleMintItem(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type              item.Type       `json:"itype"`
		Data              json.RawMessage `json:"data"`
		CollectedOnlyOnce bool            `json:"collected_only_once"`
		CollectedAsTeam   bool            `json:"collected_as_team"`
	}
	err := parseBody(r, &request)
	if err != nil {
		h.respondError(w, err)
		return
	}
	encoded, err := h.Items.Mint(request.Type, request.Data,
		request.CollectedOnlyOnce, request.CollectedAsTeam)
	if err != nil {
		h.respondError(w, err)
		return
	}
	url, err := item.WrapURL(h.ItemBaseURL, encoded)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}{Token: encoded, URL: url})
}

// handleAdminTicker returns the newest ticker entries of the game including
// private ones.
func (h *handlers) handleAdminTicker(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		h.respondError(w, err)
		return
	}
	entries, err := h.Ticker.RecentAll(r.Context(), h.Pool, gameID,
		queryLimit(r, DefaultTickerLimit))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, tickerEntriesResponse(entries))
}
