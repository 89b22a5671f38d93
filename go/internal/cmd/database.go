package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/requestlog"
)

// setupRequestLog opens the SQLite request log. It returns nil when no
// database is configured.
func setupRequestLog(path string) (*requestlog.Logger, error) {
	if path == "" {
		log.Info().Msg("request log disabled")
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	l, err := requestlog.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("request log opened")
	return l, nil
}
