package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityUser  = 0 // no flags: results, warnings, errors
	VerbosityInfo  = 1 // -v: + progress, startup, adapter status
	VerbosityDebug = 2 // -vv: + protocol traffic, rule evaluation detail
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch verbosity {
	case VerbosityUser:
		return zapcore.WarnLevel
	case VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// LevelForName maps a configured verbosity word to a zap level. Unknown
// words fall back to the quiet user level.
func LevelForName(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}
