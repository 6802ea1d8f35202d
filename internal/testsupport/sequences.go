package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// Global counter for generating unique sequential IDs in tests
	testSequence uint64

	baseTimestamp = time.Now().UnixNano()
)

func init() {
	// Seed with current timestamp to ensure uniqueness across test runs
	testSequence = uint64(baseTimestamp % 1000000)
}

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("test_app") -> "test_app_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueString generates a unique string identifier
func UniqueString() string {
	return uuid.New().String()
}

// UniqueUserID generates a unique user ID
// Example: UniqueUserID() -> "user_123456"
func UniqueUserID() string {
	return fmt.Sprintf("user_%d", NextSequence())
}

// UniqueSessionID generates a unique session ID string
func UniqueSessionID() string {
	return fmt.Sprintf("session_%d", NextSequence())
}

// UniqueConnectionID generates a unique connection ID
func UniqueConnectionID() string {
	return fmt.Sprintf("conn_%d_%s", NextSequence(), uuid.New().String()[:8])
}

// UniqueEventID generates a unique event ID
func UniqueEventID() string {
	return fmt.Sprintf("event_%d_%s", NextSequence(), uuid.New().String()[:8])
}
