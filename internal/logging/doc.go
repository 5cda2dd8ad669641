// Package logging provides structured logging for llmgw.
//
// Logger wraps Zap with context-aware methods that add correlation fields
// (trace and span ids, session id, provider, request id) to every entry.
// Output goes to stdout through a redacting encoder and optionally to an
// OpenTelemetry log provider. Entries below error level are sampled.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, info.ID)
//	logger.Info(ctx, "session opened", zap.String("model", info.Model))
//
// Components that take a *zap.Logger receive logger.Named("x").Underlying().
package logging
