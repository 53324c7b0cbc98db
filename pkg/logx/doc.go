// Package logx configures stripesd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Chatty levels throttled (token bucket) when max_per_sec is set
//
// Loggers travel through context.Context (NewContext/FromContext) so task work
// functions log with the group and task key of the run they belong to.
package logx
