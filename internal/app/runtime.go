package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv disables runtime side effects of the binaries when set to "1".
const TestModeEnv = "PRICEBOOK_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the binaries should skip connecting to backends.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new flag.
func RefreshTestMode() bool {
	v := os.Getenv(TestModeEnv) == "1"
	testMode.Store(&v)
	return v
}
