package redisstore

import "time"

type Config struct {
	ConnectionURL    string        `env:"JOBQUEUE_REDIS_URL" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the server, e.g. "redis://:password@localhost:6379/0"
	Key              string        `env:"JOBQUEUE_REDIS_KEY" envDefault:"jobqueue:state"`             // Key holds the queue state document.
	RetryAttempts    int           `env:"JOBQUEUE_REDIS_RETRY_ATTEMPTS" envDefault:"3"`               // RetryAttempts is the number of connection attempts.
	RetryInterval    time.Duration `env:"JOBQUEUE_REDIS_RETRY_INTERVAL" envDefault:"5s"`              // RetryInterval is the pause between connection attempts.
	ConnectTimeout   time.Duration `env:"JOBQUEUE_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`            // ConnectTimeout bounds the whole connection phase.
	MaxUpdateRetries int           `env:"JOBQUEUE_REDIS_MAX_UPDATE_RETRIES" envDefault:"50"`          // MaxUpdateRetries bounds optimistic transaction retries.
}
