// Package logging builds the coordinator's zap logger. The logger is
// always constructed and passed to callers explicitly — no package-level
// global — so tests can inject a no-op logger and production can inject
// a configured one.
package logging

import "go.uber.org/zap"

// New builds a zap logger. debug selects the development encoder
// (console, colorized, caller info); otherwise the production JSON
// encoder is used.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}
