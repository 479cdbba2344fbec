// Package logging constructs the single zap.SugaredLogger threaded through
// every tdbx component, matching the teacher's logger *zap.SugaredLogger
// field convention.
package logging

import "go.uber.org/zap"

// New builds a development logger when debug is true and a production
// logger otherwise. Use Noop for a logger that discards everything.
func New(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, useful for tests and for
// callers that never configured logging.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
