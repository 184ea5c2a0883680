package serf

import (
	"math/rand"
	"os"
	"time"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

// defaultHostname falls back to "localhost" if the OS hostname is
// unavailable, matching Serf's DefaultConfig behavior.
func defaultHostname() (string, error) {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost", err
	}
	return name, nil
}

// randomOffset returns a random offset in [0,n).
func randomOffset(n int) int {
	if n == 0 {
		return 0
	}
	return int(rand.Uint32() % uint32(n))
}
