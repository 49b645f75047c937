// Package logging builds the zap logger shared by every entrypoint and the
// field helpers that keep identifiers and credentials out of log lines.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// New returns a JSON logger in prod mode and a console logger otherwise.
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production", "":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return log, nil
}

// ShortHash is a stable, non-reversible 12 hex char digest of v.
func ShortHash(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:12]
}

// Conversation logs a conversation key by digest only.
func Conversation(key string) zap.Field {
	return zap.String("conversation", ShortHash(key))
}

// Redacted records that a secret-bearing field existed without its value.
func Redacted(name, value string) zap.Field {
	if value == "" {
		return zap.String(name, "")
	}
	return zap.String(name, redacted)
}
