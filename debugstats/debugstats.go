// Package debugstats periodically logs runtime health along with the number
// of open update signals. Useful for spotting goroutine leaks from abandoned
// update streams.
package debugstats

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/skirmishgame/skirmish-server/service"
	"go.uber.org/zap"
)

// SignalCounter reports how many update signals are currently held. Usually a
// trigger.Registry.
type SignalCounter interface {
	Len() int
}

type Config struct {
	// IsEnabled describes whether periodic debug stats logging is desired.
	IsEnabled bool
	// Interval in which to log debug stats.
	Interval time.Duration
	// Signals is the counter for open update signals. May be nil.
	Signals SignalCounter
}

type debugStatsService struct {
	logger *zap.Logger
	config Config
}

func NewService(logger *zap.Logger, config Config) (service.Service, error) {
	return &debugStatsService{
		logger: logger,
		config: config,
	}, nil
}

func (s *debugStatsService) Run(ctx context.Context) error {
	if !s.config.IsEnabled {
		return nil
	}
	s.logger.Debug(fmt.Sprintf("logging system state every %gs", s.config.Interval.Seconds()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.Interval):
			s.logSystemDebugStats()
		}
	}
}

// logSystemDebugStats logs the current system state like memory stats, open
// update signals and the current stack.
func (s *debugStatsService) logSystemDebugStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	openSignals := 0
	if s.config.Signals != nil {
		openSignals = s.config.Signals.Len()
	}
	buf := make([]byte, 1<<16)
	stackSize := runtime.Stack(buf, true)
	s.logger.Debug("system debug stats",
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.Int("num_goroutines", runtime.NumGoroutine()),
		zap.Uint64("memory_in_use_mb", memStats.Sys/1000/1000),
		zap.Int("open_update_signals", openSignals),
		zap.String("stack", string(buf[:stackSize])))
}
