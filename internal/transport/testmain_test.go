package transport

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for leaked receiveLoop/scheduler goroutines after every
// test in this package completes.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
