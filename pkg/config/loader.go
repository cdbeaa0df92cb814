package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Load populates the provided configuration struct from environment variables.
//
// The first call attempts to load a default .env file; a missing file is not
// an error. Field parsing is driven by `env:` tags.
//
// Example:
//
//	type PushConfig struct {
//	    Endpoint string        `env:"PUSH_ENDPOINT,required"`
//	    Timeout  time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`
//	}
//
//	var cfg PushConfig
//	if err := config.Load(&cfg); err != nil {
//	    // handle error
//	}
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file might not exist and that's ok.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
// Useful for configurations required for the application to start.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load config %T: %v", v, err))
	}
}
