package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	Env = map[string]string{"BILLING_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("BILLING_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("BILLING_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("BILLING_TEST_MISSING", "def"))
}

func TestGetEnvIntAndSeconds(t *testing.T) {
	Env = map[string]string{
		"WORKERS": "7",
		"BROKEN":  "seven",
		"TIMEOUT": "12",
	}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetEnvInt("WORKERS", 3))
	assert.Equal(t, 3, GetEnvInt("BROKEN", 3))
	assert.Equal(t, 3, GetEnvInt("MISSING", 3))
	assert.Equal(t, 12*time.Second, GetEnvSeconds("TIMEOUT", time.Second))
	assert.Equal(t, time.Second, GetEnvSeconds("MISSING", time.Second))
}
