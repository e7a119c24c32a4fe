// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/git-clone-worker/internal/clone"
)

// ServiceName is stamped on every log line as "service".
const ServiceName = "git-clone-worker"

// New builds a zap.Logger configured for development (colored console) or
// production (JSON). Production sampling is off so no job outcome line is
// dropped.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// WithJob scopes logger to one claimed job.
func WithJob(logger *zap.Logger, job clone.Job) *zap.Logger {
	return logger.With(
		zap.String("job_id", job.ID),
		zap.String("run_id", job.RunID),
		zap.String("repo", job.Data.Name),
	)
}
