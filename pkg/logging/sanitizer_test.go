package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeConnectionString(t *testing.T) {
	got := SanitizeConnectionString("host=db port=5432 user=reforge password=s3cret dbname=reforge_engine")
	assert.NotContains(t, got, "s3cret")
	assert.Contains(t, got, "password="+RedactedText)

	got = SanitizeConnectionString("postgres://reforge:s3cret@db:5432/reforge_engine")
	assert.NotContains(t, got, "s3cret")

	assert.Equal(t, "", SanitizeConnectionString(""))
}

func TestSanitizeError(t *testing.T) {
	err := errors.New("connect postgres://reforge:hunter2@db:5432/reforge_engine: refused")
	got := SanitizeError(err)
	assert.NotContains(t, got, "hunter2")

	assert.Equal(t, "", SanitizeError(nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "lon...", TruncateString("longer text", 3))
}
