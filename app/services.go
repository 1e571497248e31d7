package app

import (
	"context"
	"fmt"
	"time"

	"github.com/skirmishgame/skirmish-server/debugstats"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/service"
	"github.com/skirmishgame/skirmish-server/trigger"
	"github.com/skirmishgame/skirmish-server/web_server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type services map[string]service.Service

func createServices(appConfig Config, logger *zap.Logger,
	webServer *web_server.WebServer, triggers *trigger.Registry) (services, error) {
	services := make(services)
	// Debug stats service.
	s, err := debugstats.NewService(logger.Named("debug-stats"), debugstats.Config{
		IsEnabled: appConfig.Log.SystemDebugStatsInterval.Valid && appConfig.Log.SystemDebugStatsInterval.Int > 0,
		Interval:  time.Duration(appConfig.Log.SystemDebugStatsInterval.Int) * time.Minute,
		Signals:   triggers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new debug stats service", nil)
	}
	services["debug-stats"] = s
	// Web server.
	services["web-server"] = webServer
	return services, nil
}

func (s services) run(ctx context.Context, logger *zap.Logger) error {
	wg, lifetime := errgroup.WithContext(ctx)
	// Run each.
	for name, serviceToRun := range s {
		// Copy values.
		name, serviceToRun := name, serviceToRun
		wg.Go(func() error {
			logger.Debug(fmt.Sprintf("service %s up", name))
			defer logger.Debug(fmt.Sprintf("service %s down", name))
			if err := serviceToRun.Run(lifetime); err != nil {
				return errors.Wrap(err, "run service", errors.Details{"service_name": name})
			}
			return nil
		})
	}
	return wg.Wait()
}
