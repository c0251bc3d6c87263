package jobqueue

import "time"

// Config holds the runtime settings shared by the CLI and embedding programs.
type Config struct {
	// Store selects the backend: file, redis, postgres or mongo.
	Store       string `env:"JOBQUEUE_STORE" envDefault:"file"`
	RunSchedule string `env:"JOBQUEUE_RUN_SCHEDULE" envDefault:"@every 1m"`
	ScriptDir   string `env:"JOBQUEUE_SCRIPT_DIR"`
	// ScriptInterpreters maps file extensions to interpreters, e.g. ".php:php,.py:python3".
	ScriptInterpreters map[string]string `env:"JOBQUEUE_SCRIPT_INTERPRETERS"`
	HTTPAddr           string            `env:"JOBQUEUE_HTTP_ADDR"`
	ShutdownTimeout    time.Duration     `env:"JOBQUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Environment        string            `env:"JOBQUEUE_ENV" envDefault:"production"`
}
