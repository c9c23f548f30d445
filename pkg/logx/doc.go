// Package logx provides structured logging for mediarr.
//
// It wraps zerolog behind a small Logger value type so components can hold a
// logger without caring about sinks. The Service owns the sinks (console,
// file) and can be re-Applied at runtime when the config changes; loggers
// created from it pick up the new configuration on the next write.
package logx
