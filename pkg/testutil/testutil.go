// Package testutil provides testing utilities for zcomp
package testutil

import (
	"context"
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 5ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// AssertNever asserts that a condition stays false for the whole duration.
// Used to check that a goroutine remains blocked.
func AssertNever(t *testing.T, condition func() bool, duration time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if condition() {
			t.Fatalf("condition became true within %v: %s", duration, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// RequireNoError fails the test immediately if err is not nil.
// The msg parameter provides additional context in the failure message.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

const lorem = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. "

// TextBlock returns a compressible block of repeated prose
func TextBlock(size int) []byte {
	b := []byte(strings.Repeat(lorem, size/len(lorem)+1))
	return b[:size]
}

// RandomBlock returns an incompressible block derived from seed
func RandomBlock(size int, seed int64) []byte {
	b := make([]byte, size)
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	r.Read(b)
	return b
}

// SameFilledBlock returns a block in which every 64-bit word equals word
func SameFilledBlock(size int, word uint64) []byte {
	b := make([]byte, size)
	for i := 0; i+8 <= size; i += 8 {
		binary.LittleEndian.PutUint64(b[i:], word)
	}
	return b
}
