// Package guard flips the back office into test mode when imported, so
// binaries started from tests skip their runtime side effects.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the variable the binaries check before starting.
const EnvVar = "BACKOFFICE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
