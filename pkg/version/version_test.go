package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsTrimmedVersion(t *testing.T) {
	got := Get()
	assert.Equal(t, got, Get())
	assert.NotContains(t, got, "\n")
}

func TestVersionNotEmptyAndPrefixed(t *testing.T) {
	s := Get()
	assert.NotEmpty(t, s)
	// Version strings in this repo are prefixed with 'v'
	assert.Equal(t, byte('v'), s[0])
}
