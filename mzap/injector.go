// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

package mzap

import (
	"log"
	"os"

	"github.com/LerianStudio/lib-norm/mlog"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitializeLogger initializes our log layer and returns it
//
//nolint:ireturn
func InitializeLogger() mlog.Logger {
	logger, err := InitializeLoggerWithError()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	return logger
}

// InitializeLoggerWithError initializes our log layer and returns it, or an
// error when the zap config cannot be built.
//
//nolint:ireturn
func InitializeLoggerWithError() (mlog.Logger, error) {
	var zapCfg zap.Config

	if os.Getenv("ENV_NAME") == "production" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		var lvl zapcore.Level
		if err := lvl.Set(val); err != nil {
			log.Printf("Invalid LOG_LEVEL, fallback to InfoLevel: %v", err)

			lvl = zapcore.InfoLevel
		}

		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zapCfg.DisableStacktrace = true

	logger, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	sugarLogger := otelzap.New(logger, otelzap.WithMinLevel(zapCfg.Level.Level())).Sugar()

	return &ZapWithTraceLogger{
		Logger: sugarLogger,
	}, nil
}
