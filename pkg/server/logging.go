package server

import (
	"io"
	"log"
	"os"
)

// Package-level loggers. Debug output is discarded unless enabled; tests
// swap both for io.Discard.
var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
	debugLog = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// EnableDebugLogging routes debug output to stderr.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
}
