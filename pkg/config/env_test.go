package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("EC_STR", "value")
	t.Setenv("EC_EMPTY", "")
	assert.Equal(t, "value", GetEnv("EC_STR", "def"))
	assert.Equal(t, "def", GetEnv("EC_EMPTY", "def"))
	assert.Equal(t, "def", GetEnv("EC_UNSET_STR", "def"))
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("EC_INT", "42")
	t.Setenv("EC_INT64", "9000000000")
	t.Setenv("EC_BAD", "x")

	assert.Equal(t, 42, GetEnvInt("EC_INT", 1))
	assert.Equal(t, 1, GetEnvInt("EC_BAD", 1))
	assert.Equal(t, int64(9000000000), GetEnvInt64("EC_INT64", 1))
	assert.Equal(t, int64(7), GetEnvInt64("EC_BAD", 7))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"ON", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("EC_BOOL", tt.val)
			assert.Equal(t, tt.want, GetEnvBool("EC_BOOL", tt.def))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("EC_DUR", "1m30s")
	t.Setenv("EC_BAD_DUR", "soon")
	assert.Equal(t, 90*time.Second, GetEnvDuration("EC_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("EC_BAD_DUR", time.Second))
}
