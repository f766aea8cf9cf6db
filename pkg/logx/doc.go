// Package logx is wosbot's structured logging layer.
//
// A thin Logger wrapper over zerolog keeps:
//   - console output short (compact timestamp + file:line caller)
//   - file output as JSON lines
//   - an optional alert sink that forwards WARN+ lines to an operator chat,
//     gated by a min level and a rate limiter
package logx
