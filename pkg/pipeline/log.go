package pipeline

import "github.com/cyclopcam/logs"

// runLogger writes to the underlying log, with every message prefixed by the run ID
type runLogger struct {
	log    logs.Log
	prefix string
}

func newRunLogger(log logs.Log, runID string) *runLogger {
	return &runLogger{
		log:    log,
		prefix: "Run " + runID + ": ",
	}
}

// The underlying log is shared between runs, so we don't close it
func (l *runLogger) Close() {
}

func (l *runLogger) Debugf(format string, a ...any) {
	l.log.Debugf(l.prefix+format, a...)
}

func (l *runLogger) Infof(format string, a ...any) {
	l.log.Infof(l.prefix+format, a...)
}

func (l *runLogger) Warnf(format string, a ...any) {
	l.log.Warnf(l.prefix+format, a...)
}

func (l *runLogger) Errorf(format string, a ...any) {
	l.log.Errorf(l.prefix+format, a...)
}

func (l *runLogger) Criticalf(format string, a ...any) {
	l.log.Criticalf(l.prefix+format, a...)
}
