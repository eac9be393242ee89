package wasmrt

import (
	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/logging"
)

// logGlobal returns a sugared logger for the rare call sites (like the
// GuestBuffer leak finalizer) where key/value logging reads more naturally
// than the structured zap.Field form used elsewhere in this package.
func logGlobal() *zap.SugaredLogger {
	return logging.Global().Sugar()
}
