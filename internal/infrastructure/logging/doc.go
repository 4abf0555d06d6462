// Package logging builds zap loggers for the terabithia binaries.
//
// Production mode writes sampled JSON to stderr; development mode writes
// colored console lines at debug level. Library packages take a plain
// *zap.Logger and name themselves ("bridge", "sandbox", "relay"), so a
// process running both domains of a tab still produces attributable lines.
//
// Example Usage:
//
//	logger := logging.FromLevel("info", false)
//	defer logger.Sync()
//	ep, err := bridge.New(ctx, ch, bridge.Options{Logger: logger.Logger, ...})
package logging
