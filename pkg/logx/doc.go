// Package logx configures autosend's structured logging.
//
// A small wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional forwarding sink (min-level + rate limiting) that feeds
//     the status channel and the chat notifier
package logx
