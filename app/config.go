package app

import (
	"encoding/json"
	nativeerrors "errors"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/gobuffalo/nulls"
	"github.com/skirmishgame/skirmish-server/errors"
	"github.com/skirmishgame/skirmish-server/web_server"
	"go.uber.org/zap/zapcore"
)

// LogConfig is the logging part of the Config.
type LogConfig struct {
	// StdoutLogLevel is the minimum level for stdout output.
	StdoutLogLevel zapcore.Level `json:"stdout_log_level" env:"SKIRMISH_LOG_STDOUT_LEVEL"`
	// HighPriorityOutput is an optional file for rotating warn-and-above output.
	HighPriorityOutput nulls.String `json:"high_priority_output"`
	// DebugOutput is an optional file for rotating debug output.
	DebugOutput nulls.String `json:"debug_output"`
	// MaxSize is the maximum size of rotated log files in megabytes.
	MaxSize int `json:"max_size"`
	// KeepDays is how many days rotated log files are kept.
	KeepDays int `json:"keep_days"`
	// SystemDebugStatsInterval is the interval in minutes for logging system
	// debug stats. Unset disables them.
	SystemDebugStatsInterval nulls.Int `json:"system_debug_stats_interval"`
}

// Config is the configuration needed in order to boot an App. Loaded from a
// JSON file, selected fields can be overridden via environment variables.
type Config struct {
	// DBConn is the connection string for the PostgreSQL database.
	DBConn string `json:"db_conn" env:"SKIRMISH_DB_CONN"`
	// ServeAddr is the address the web server will listen on.
	ServeAddr string `json:"serve_addr" env:"SKIRMISH_SERVE_ADDR"`
	// AdminToken guards the admin API.
	AdminToken string `json:"admin_token" env:"SKIRMISH_ADMIN_TOKEN"`
	// ItemSecret signs item tokens. Changing it invalidates all minted items.
	ItemSecret string `json:"item_secret" env:"SKIRMISH_ITEM_SECRET"`
	// ItemBaseURL is the base address minted item URLs point to.
	ItemBaseURL string `json:"item_base_url" env:"SKIRMISH_ITEM_BASE_URL"`
	// KnockoutWindowSec is the length of the knockout window in seconds. Unset
	// uses the combat default.
	KnockoutWindowSec int `json:"knockout_window_sec" env:"SKIRMISH_KNOCKOUT_WINDOW_SEC"`
	// Log configures logging.
	Log LogConfig `json:"log"`
}

// LoadConfig reads the config file at the given path, if any, and applies
// environment variable overrides.
func LoadConfig(path string) (Config, error) {
	var config Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Error{
				Code:    errors.ErrFatal,
				Err:     err,
				Message: "read config file",
				Details: errors.Details{"path": path},
			}
		}
		err = json.Unmarshal(raw, &config)
		if err != nil {
			return Config{}, errors.Error{
				Code:    errors.ErrFatal,
				Kind:    errors.KindDecodeJSON,
				Err:     err,
				Message: "parse config file",
				Details: errors.Details{"path": path},
			}
		}
	}
	err := env.Parse(&config)
	if err != nil {
		return Config{}, errors.Error{
			Code:    errors.ErrFatal,
			Err:     err,
			Message: "parse config from env",
		}
	}
	if config.ServeAddr == "" {
		config.ServeAddr = web_server.DefaultServeAddr
	}
	return config, nil
}

// ValidateConfig assures that all required Config fields are set.
func ValidateConfig(config Config) error {
	if config.DBConn == "" {
		return nativeerrors.New("missing db connection string")
	}
	if config.ItemSecret == "" {
		return nativeerrors.New("missing item secret")
	}
	if config.AdminToken == "" {
		return nativeerrors.New("missing admin token")
	}
	return nil
}
