package push

import "time"

type Config struct {
	Endpoint     string        `env:"PUSH_ENDPOINT,required"`               // Endpoint is the provider's message send URL.
	Timeout      time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`        // Timeout bounds every provider call.
	MaxBatchSize int           `env:"PUSH_MAX_BATCH_SIZE" envDefault:"500"` // MaxBatchSize is the provider's multicast limit.
}
