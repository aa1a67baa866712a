// Package safe holds small defensive helpers shared across components,
// ported from the reference server's tools/safe package.
package safe

import (
	"github.com/hearthline/core/internal/logging"
)

// Go launches fn in a goroutine, recovering any panic and logging it
// instead of bringing the process down. The gateway bridge consumers,
// the e2ee transfer reaper and the voice room goroutines are started
// through this helper; the gateway's heartbeat sweeper and write pumps
// and pubsub's Events decoder use plain go statements and have no such
// recovery.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Errorf("panic recovered in %s: %v", name, r)
			}
		}()
		fn()
	}()
}

// DefaultString returns v unless it is empty, in which case it returns def.
func DefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DefaultInt returns v unless it is zero, in which case it returns def.
func DefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
