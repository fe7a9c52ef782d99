package logger

import "testing"

func TestCallsBeforeInitAreDropped(t *testing.T) {
	mu.Lock()
	singleton = nil
	mu.Unlock()

	Info("nobody listens")
}
