package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger prefixed with the running test's name so
// interleaved output stays attributable.
func TestLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stderr, "["+t.Name()+"] ", log.LstdFlags)
}
