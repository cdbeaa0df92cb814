// Package config loads configuration structs from environment variables.
//
// It combines godotenv (optional .env file support for local development)
// with caarlos0/env struct tag parsing. Each package that needs runtime
// configuration declares its own Config struct with `env:` tags and calls
// config.Load or config.MustLoad during wiring.
package config
