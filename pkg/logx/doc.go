// Package logx configures recruitd's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable (short timestamp + short caller) and file output JSON-structured.
// Throttle rate-limits repetitive warnings such as queue pressure.
package logx
