// Package logging builds the service logger: an ectologger front with a zap sink.
package logging

import (
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
)

// New creates the application logger. Pretty output uses zap's development
// encoder, otherwise production JSON.
func New(pretty bool) (ectologger.Logger, func()) {
	var zl *zap.Logger
	if pretty {
		zl, _ = zap.NewDevelopment()
	} else {
		zl, _ = zap.NewProduction()
	}

	sink := zl.Sugar()
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		// ectologger already assembled the structured message; emit it as-is
		b, err := json.Marshal(msg)
		if err != nil {
			sink.Error("failed to encode log message")
			return
		}
		sink.Info(string(b))
	})

	flush := func() {
		_ = zl.Sync()
	}
	return logger, flush
}
