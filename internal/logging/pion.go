package logging

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ logging.LoggerFactory = PionFactory{}

// PionFactory hands pion a zerolog backed logger per scope. Pion is chatty,
// so its levels are shifted down unless Verbose is set.
type PionFactory struct {
	Verbose bool
}

func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{z: log.With().Str("module", "pion."+scope).Logger(), verbose: f.Verbose}
}

type pionLogger struct {
	z       zerolog.Logger
	verbose bool
}

func (l *pionLogger) quiet(lvl zerolog.Level) *zerolog.Event {
	if !l.verbose {
		lvl = zerolog.TraceLevel
	}
	return l.z.WithLevel(lvl)
}

func (l *pionLogger) Trace(msg string)                  { l.z.Trace().Msg(msg) }
func (l *pionLogger) Tracef(format string, args ...any) { l.z.Trace().Msgf(format, args...) }
func (l *pionLogger) Debug(msg string)                  { l.quiet(zerolog.DebugLevel).Msg(msg) }
func (l *pionLogger) Debugf(format string, args ...any) { l.quiet(zerolog.DebugLevel).Msgf(format, args...) }
func (l *pionLogger) Info(msg string)                   { l.quiet(zerolog.InfoLevel).Msg(msg) }
func (l *pionLogger) Infof(format string, args ...any)  { l.quiet(zerolog.InfoLevel).Msgf(format, args...) }
func (l *pionLogger) Warn(msg string)                   { l.z.Warn().Msg(msg) }
func (l *pionLogger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l *pionLogger) Error(msg string)                  { l.z.Error().Msg(msg) }
func (l *pionLogger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }
