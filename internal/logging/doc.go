// Package logging provides structured logging for eventforge.
//
// Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout and optional OpenTelemetry output
//   - context field injection (trace_id, request.id, run.id, destination.id)
//   - encoder-level redaction of secret-bearing fields
//   - level-aware sampling that never drops errors
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithDestinationID(ctx, "hec:1")
//	logger.Info(ctx, "run started")
//
// Components that only need a plain *zap.Logger receive Underlying().
//
// # Secret Redaction
//
// HEC tokens never belong in logs. Fields named token, secret,
// authorization and similar are replaced by the encoder, and values that
// look like bearer credentials are replaced by pattern. Use Secret or
// RedactedString when a value must be mentioned explicitly.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "run finished", zap.Int("lines", 3))
//	tl.AssertLogged(t, zapcore.InfoLevel, "run finished")
//	tl.AssertNoSecrets(t)
package logging
