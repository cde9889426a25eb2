// Package logx configures pushalert's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional operator alert sink (min-level + rate limiting)
package logx
