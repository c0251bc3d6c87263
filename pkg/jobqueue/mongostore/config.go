package mongostore

import "time"

// Config represents the MongoDB store configuration.
type Config struct {
	ConnectionURL    string        `env:"JOBQUEUE_MONGO_URL" envDefault:"mongodb://localhost:27017"` // ConnectionURL is the URL of the deployment.
	Database         string        `env:"JOBQUEUE_MONGO_DATABASE" envDefault:"jobqueue"`
	Collection       string        `env:"JOBQUEUE_MONGO_COLLECTION" envDefault:"state"`
	DocumentID       string        `env:"JOBQUEUE_MONGO_DOCUMENT_ID" envDefault:"default"` // DocumentID selects the document holding this queue's state.
	ConnectTimeout   time.Duration `env:"JOBQUEUE_MONGO_CONNECT_TIMEOUT" envDefault:"10s"`
	MaxPoolSize      uint64        `env:"JOBQUEUE_MONGO_MAX_POOL_SIZE" envDefault:"10"`
	RetryAttempts    int           `env:"JOBQUEUE_MONGO_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval    time.Duration `env:"JOBQUEUE_MONGO_RETRY_INTERVAL" envDefault:"5s"`
	MaxUpdateRetries int           `env:"JOBQUEUE_MONGO_MAX_UPDATE_RETRIES" envDefault:"50"`
}
