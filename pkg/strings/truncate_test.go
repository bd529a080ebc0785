package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDescription(t *testing.T) {
	assert.Equal(t, "hello", TruncateDescription("hello", 10))
	assert.Equal(t, "hello", TruncateDescription("hello", 5))
	assert.Equal(t, "hello world ...", TruncateDescription("hello world this is a long string", 15))
	assert.Equal(t, "one two three", TruncateDescription("one\ntwo\t\tthree", 20))
	// maxLen below the minimum is clamped; no panic, room for ellipsis.
	assert.Equal(t, "a...", TruncateDescription("abcdefgh", 1))
	assert.Equal(t, "", TruncateDescription("", 10))
}
