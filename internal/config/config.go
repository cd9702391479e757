package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // FORECAST_TIMEZONE must resolve in minimal containers.

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string `env:"HTTP_ADDR" validate:"required"`
	LogLevel        string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration

	// AEMET forecast API.
	AEMETAPIKey       string `env:"AEMET_API_KEY" validate:"required"`
	AEMETBaseURL      string `env:"AEMET_BASE_URL" validate:"required,url"`
	AEMETMunicipality string `env:"AEMET_MUNICIPALITY" validate:"required,numeric,len=5"`
	AEMETTimeout      time.Duration

	// EMT open-data feeds.
	EMTBaseURL string `env:"EMT_BASE_URL" validate:"required,url"`
	EMTTimeout time.Duration

	// ForecastLocation decides which calendar day is "today".
	ForecastLocation *time.Location
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	aemetTimeout, err := parseTimeout("AEMET_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	emtTimeout, err := parseTimeout("EMT_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	tz := sharedcfg.EnvOrDefault("FORECAST_TIMEZONE", "Europe/Madrid")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid FORECAST_TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,

		AEMETAPIKey:       os.Getenv("AEMET_API_KEY"),
		AEMETBaseURL:      strings.TrimSuffix(sharedcfg.EnvOrDefault("AEMET_BASE_URL", "https://opendata.aemet.es/opendata/api"), "/"),
		AEMETMunicipality: sharedcfg.EnvOrDefault("AEMET_MUNICIPALITY", "29067"),
		AEMETTimeout:      aemetTimeout,

		EMTBaseURL: strings.TrimSuffix(sharedcfg.EnvOrDefault("EMT_BASE_URL", "https://datosabiertos.malaga.eu/recursos/transporte/EMT"), "/"),
		EMTTimeout: emtTimeout,

		ForecastLocation: loc,
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, describe(err)
	}

	return cfg, nil
}

func parseTimeout(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// describe turns validation failures into one error naming each variable.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("invalid %s: failed %q", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
