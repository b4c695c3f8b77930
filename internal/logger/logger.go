package logger

import (
	"go.uber.org/zap"
)

// New builds a zap logger for the given environment: JSON production
// config in production, console development config otherwise.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// NewNamed builds a logger carrying the service name on every entry.
func NewNamed(env, service string) (*zap.Logger, error) {
	l, err := New(env)
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", service)), nil
}
