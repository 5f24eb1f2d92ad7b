package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetters(t *testing.T) {
	t.Setenv("ESCROW_TEST_STRING", "value")
	t.Setenv("ESCROW_TEST_INT", "42")
	t.Setenv("ESCROW_TEST_BAD_INT", "forty-two")
	t.Setenv("ESCROW_TEST_BOOL", "true")
	t.Setenv("ESCROW_TEST_DURATION", "90s")
	t.Setenv("ESCROW_TEST_LIST", "a, b,,c")

	assert.Equal(t, "value", GetString("ESCROW_TEST_STRING", "x"))
	assert.Equal(t, "x", GetString("ESCROW_TEST_MISSING", "x"))
	assert.Equal(t, 42, GetInt("ESCROW_TEST_INT", 0))
	assert.Equal(t, 7, GetInt("ESCROW_TEST_BAD_INT", 7))
	assert.True(t, GetBool("ESCROW_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetDuration("ESCROW_TEST_DURATION", 0))
	assert.Equal(t, []string{"a", "b", "c"}, GetList("ESCROW_TEST_LIST", nil))
}
