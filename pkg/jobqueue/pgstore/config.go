package pgstore

import "time"

type Config struct {
	ConnectionString  string        `env:"JOBQUEUE_PG_URL" envDefault:"postgres://localhost:5432/jobqueue?sslmode=disable"` // ConnectionString is the connection string to the database.
	MaxOpenConns      int32         `env:"JOBQUEUE_PG_MAX_OPEN_CONNS" envDefault:"4"`                                        // MaxOpenConns is the maximum number of open connections.
	MaxIdleConns      int32         `env:"JOBQUEUE_PG_MAX_IDLE_CONNS" envDefault:"1"`                                        // MaxIdleConns is the number of connections kept open.
	HealthCheckPeriod time.Duration `env:"JOBQUEUE_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"JOBQUEUE_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"JOBQUEUE_PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	RetryAttempts int           `env:"JOBQUEUE_PG_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of connection attempts.
	RetryInterval time.Duration `env:"JOBQUEUE_PG_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval grows linearly with every failed attempt.

	// Name selects the row holding this queue's state, so several queues can share a table.
	Name string `env:"JOBQUEUE_PG_STATE_NAME" envDefault:"default"`

	// Migrate applies the embedded schema migrations on startup.
	Migrate bool `env:"JOBQUEUE_PG_MIGRATE" envDefault:"true"`
}
