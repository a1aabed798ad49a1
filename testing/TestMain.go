package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("VENTUREDECK_TEST_MODE", "1")
		if os.Getenv("ADMIN_RATE_BACKEND") == "" {
			_ = os.Setenv("ADMIN_RATE_BACKEND", "memory")
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
