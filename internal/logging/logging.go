// Package logging is the thin wrapper around glog.Infoln-style progress
// narration, modeled on the teacher's tools/logger.go: an enable switch
// fed by --silent and an optional timestamp prefix, sitting in front of
// the same glog sink the rest of the pipeline logs through directly.
package logging

import (
	"time"

	"github.com/golang/glog"
)

var enabled = true
var timestamps = false

// SetSilent mirrors --silent: when true, LogOutput calls are dropped.
// glog.Warningf/Fatal are never silenced, only this summary channel.
func SetSilent(silent bool) {
	enabled = !silent
}

// SetTimestamps toggles a "[2006-01-02 15:04:05.000] " prefix on
// LogOutput lines.
func SetTimestamps(on bool) {
	timestamps = on
}

// LogOutput prints a final-summary-style line, honoring the silence
// switch. Use glog directly for per-phase progress narration; this is
// for the handful of top-level status lines main prints around a run.
func LogOutput(args ...interface{}) {
	if !enabled {
		return
	}
	if timestamps {
		glog.Infoln(append([]interface{}{"[" + time.Now().Format("2006-01-02 15:04:05.000") + "]"}, args...)...)
		return
	}
	glog.Infoln(args...)
}
