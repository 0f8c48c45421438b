package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMasksWhenEnabled(t *testing.T) {
	setSanitize(true)
	defer setSanitize(false)

	assert.Equal(t, "y***", Sanitize("yamada@example.com"))
	assert.Equal(t, "山***", Sanitize("山田 太郎"))
	assert.Equal(t, "*", Sanitize("x"))
	assert.Equal(t, "", Sanitize(""))
}

func TestSanitizePassesThroughWhenDisabled(t *testing.T) {
	setSanitize(false)
	assert.Equal(t, "yamada@example.com", Sanitize("yamada@example.com"))
}
