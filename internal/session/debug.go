package session

import (
	"log"
	"os"
	"strings"
)

var sessionDebugEnabled = strings.EqualFold(os.Getenv("ARIA_SESSION_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if sessionDebugEnabled {
		log.Printf(format, args...)
	}
}
