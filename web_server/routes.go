package web_server

import (
	"net/http"
)

// PopulateRoutes populates the WebServer with the API routes.
func (server *WebServer) PopulateRoutes(deps Dependencies) {
	h := &handlers{Dependencies: deps}
	apiRouter := server.router.PathPrefix("/api/v1").Subrouter()
	// Player endpoints. Identity via the uid query parameter.
	apiRouter.HandleFunc("/user", h.handleGetUser).Methods(http.MethodGet)
	apiRouter.HandleFunc("/user/name", h.handleSetUserName).Methods(http.MethodPost)
	apiRouter.HandleFunc("/user/join-team", h.handleJoinTeam).Methods(http.MethodPost)
	apiRouter.HandleFunc("/shots", h.handleSubmitShot).Methods(http.MethodPost)
	apiRouter.HandleFunc("/items/collect", h.handleCollectItem).Methods(http.MethodPost)
	apiRouter.HandleFunc("/ticker", h.handleGetTicker).Methods(http.MethodGet)
	apiRouter.HandleFunc("/games/{gameID}/scoreboard", h.handleScoreboard).Methods(http.MethodGet)
	apiRouter.HandleFunc("/updates", h.handleUpdates).Methods(http.MethodGet)
	// Admin endpoints, guarded by the shared admin token.
	adminRouter := apiRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(adminGuardMiddleware(server.config.AdminToken))
	adminRouter.HandleFunc("/games", h.handleCreateGame).Methods(http.MethodPost)
	adminRouter.HandleFunc("/games", h.handleListGames).Methods(http.MethodGet)
	adminRouter.HandleFunc("/games/{gameID}/active", h.handleSetGameActive).Methods(http.MethodPost)
	adminRouter.HandleFunc("/games/{gameID}/teams", h.handleCreateTeam).Methods(http.MethodPost)
	adminRouter.HandleFunc("/games/{gameID}/ticker", h.handleAdminTicker).Methods(http.MethodGet)
	adminRouter.HandleFunc("/teams/{teamID}/users", h.handleAddUserToTeam).Methods(http.MethodPost)
	adminRouter.HandleFunc("/shots", h.handleShotQueue).Methods(http.MethodGet)
	adminRouter.HandleFunc("/shots/{shotID}/resolve", h.handleResolveShot).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/hit", h.handleAdminHit).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/kill", h.handleAdminKill).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/ammo", h.handleAdminGiveAmmo).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/armour", h.handleAdminGiveArmour).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/revive", h.handleAdminRevive).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/reset", h.handleAdminResetUser).Methods(http.MethodPost)
	adminRouter.HandleFunc("/items", h.handleMintItem).Methods(http.MethodPost)
	adminRouter.HandleFunc("/updates", h.handleAdminUpdates).Methods(http.MethodGet)
}
