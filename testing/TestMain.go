// Package testing forces test-safe defaults for packages that import it.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// defaults applied unless the environment already sets them.
var defaults = map[string]string{
	"STORE_DRIVER": "memory",
	"REDIS_ADDR":   "127.0.0.1:0",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("PRICEBOOK_TEST_MODE", "1")
		for key, value := range defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
