package common

import (
	"io"
	"log"
	"os"
)

var (
	logger = log.New(os.Stderr, "[ldxsync] ", log.LstdFlags|log.Lmicroseconds)
)

// SetLogOutput redirects the package logger, e.g. to a rotating file.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
