// Package app boots a complete skirmish server instance: logging, database,
// the domain components and the web boundary, supervised as services.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/skirmishgame/skirmish-server/combat"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/item"
	"github.com/skirmishgame/skirmish-server/roster"
	"github.com/skirmishgame/skirmish-server/scope"
	"github.com/skirmishgame/skirmish-server/store"
	"github.com/skirmishgame/skirmish-server/stream"
	"github.com/skirmishgame/skirmish-server/ticker"
	"github.com/skirmishgame/skirmish-server/trigger"
	"github.com/skirmishgame/skirmish-server/web_server"
	"github.com/skirmishgame/skirmish-server/ws"
	"go.uber.org/zap"
)

// App is a complete skirmish server instance.
type App struct {
	// config is the main config used for the App.
	config Config
	// pool is the database connection pool.
	pool *pgxpool.Pool
	// mall provides persistence.
	mall *store.Mall
	// triggers is the in-memory refresh signal registry.
	triggers *trigger.Registry
	// sessions creates transactional scopes with the production hooks.
	sessions *scope.Factory
	// tickerLog posts and reads ticker messages.
	tickerLog *ticker.Log
	// combatEngine owns hit points, shots and the moderation queue.
	combatEngine *combat.Engine
	// itemLedger mints and redeems item tokens.
	itemLedger *item.Ledger
	// rosterManager handles game, team and user lifecycle.
	rosterManager *roster.Manager
	// streamService produces the update feeds.
	streamService *stream.Service
	// webServer is used for http requests and the websocket feeds.
	webServer *web_server.WebServer
}

func NewApp(config Config) *App {
	return &App{
		config: config,
	}
}

// Boot sets everything up based on the set config and runs until the context
// is done.
func (app *App) Boot(ctx context.Context) error {
	err := ValidateConfig(app.config)
	if err != nil {
		return errors.Error{
			Code:    errors.ErrFatal,
			Err:     err,
			Message: "invalid config",
		}
	}
	logger := setupLogging(app.config.Log)
	defer func() {
		_ = logger.Sync()
	}()
	err = app.boot(ctx, logger)
	if err != nil {
		err = errors.Wrap(err, "boot", nil)
		errors.Log(logger, err)
		return err
	}
	return nil
}

func (app *App) boot(ctx context.Context, logger *zap.Logger) error {
	logger.Warn("booting up")
	// Connect database.
	logger.Debug("connecting to database")
	pool, err := connectDB(ctx, logger.Named("db"), app.config.DBConn, defaultMaxDBConnections)
	if err != nil {
		return errors.Wrap(err, "connect database", nil)
	}
	defer pool.Close()
	app.pool = pool
	logger.Debug("database ready")
	// Set up the domain components.
	app.mall = store.NewMall(logger.Named("store"))
	app.triggers = trigger.NewRegistry(logger.Named("trigger"))
	app.sessions = newSessionFactory(logger.Named("scope"), pool, app.mall, app.triggers)
	app.tickerLog = ticker.NewLog(logger.Named("ticker"), app.mall)
	app.combatEngine = combat.NewEngine(logger.Named("combat"), app.mall, app.triggers,
		app.tickerLog, time.Duration(app.config.KnockoutWindowSec)*time.Second)
	app.itemLedger = item.NewLedger(logger.Named("item"), app.mall, app.combatEngine,
		app.tickerLog, []byte(app.config.ItemSecret))
	app.rosterManager = roster.NewManager(logger.Named("roster"), app.mall,
		app.combatEngine, app.tickerLog)
	app.streamService = stream.NewService(logger.Named("stream"), app.mall, pool,
		app.triggers, 0, 0)
	// Set up the web boundary.
	webServer, err := web_server.NewWebServer(logger.Named("web-server"), web_server.Config{
		ServeAddr:    app.config.ServeAddr,
		WriteTimeout: web_server.DefaultWriteTimeout,
		ReadTimeout:  web_server.DefaultReadTimeout,
		AdminToken:   app.config.AdminToken,
	})
	if err != nil {
		return errors.Wrap(err, "create web server", nil)
	}
	app.webServer = webServer
	app.webServer.PopulateRoutes(web_server.Dependencies{
		Logger:      logger.Named("api"),
		Sessions:    app.sessions,
		Pool:        pool,
		Mall:        app.mall,
		Roster:      app.rosterManager,
		Combat:      app.combatEngine,
		Items:       app.itemLedger,
		Ticker:      app.tickerLog,
		Updates:     ws.NewHandler(logger.Named("ws"), app.streamService),
		ItemBaseURL: app.config.ItemBaseURL,
	})
	// Boot everything.
	servicesToRun, err := createServices(app.config, logger, app.webServer, app.triggers)
	if err != nil {
		return errors.Wrap(err, "create services", nil)
	}
	logger.Warn("completed issuing boot commands")
	err = servicesToRun.run(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "run services", nil)
	}
	logger.Warn("shutting down")
	return nil
}
