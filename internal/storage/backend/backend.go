// Package backend opens the storage driver named in configuration.
package backend

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/storage/sqlite"
)

func Open(driver, path string, logger zerolog.Logger) (storage.Backend, error) {
	switch driver {
	case "", "json":
		return storage.New(path, logger)
	case "sqlite":
		return sqlite.Open(path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
