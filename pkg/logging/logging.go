// Package logging provides the operational log used for startup, shutdown,
// stage transitions, and title-service retries. Client-facing data flows
// through pkg/events instead, never through here.
package logging

import (
	"fmt"
	"log"
)

var Enabled = true

func Stage(requestID, stage, msg string, args ...any) {
	if !Enabled {
		return
	}
	log.Printf("[%s] %s: %s", requestID, stage, fmt.Sprintf(msg, args...))
}

func Info(msg string, args ...any) {
	if !Enabled {
		return
	}
	log.Printf("INFO: "+msg, args...)
}

func Warn(msg string, args ...any) {
	if !Enabled {
		return
	}
	log.Printf("WARN: "+msg, args...)
}

func Error(msg string, args ...any) {
	if !Enabled {
		return
	}
	log.Printf("ERROR: "+msg, args...)
}
