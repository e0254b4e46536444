package sentinel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyTag(t *testing.T) {
	assert.Equal(t, "foo", keyTag("foo"))
	assert.Equal(t, "bar", keyTag("foo{bar}baz"))
	assert.Equal(t, "foo{}baz", keyTag("foo{}baz"), "empty tag falls back to the whole key")
	assert.Equal(t, "foo{bar", keyTag("foo{bar"), "unterminated tag falls back to the whole key")
}

func TestHashSlotRange(t *testing.T) {
	for _, key := range []string{"foo", "bar", "user:1000", "{user:1000}.following"} {
		slot := HashSlot(key)
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, NumSlots)
	}
}

func TestHashSlotHashTagsCollocate(t *testing.T) {
	a := HashSlot("{user:1000}.following")
	b := HashSlot("{user:1000}.followers")
	assert.Equal(t, a, b, "keys sharing a hash tag must land on the same slot")
}

func TestHashSlotKnownVectors(t *testing.T) {
	assert.Equal(t, 12182, HashSlot("foo"))
	assert.Equal(t, 5061, HashSlot("bar"))
	assert.Equal(t, 1649, HashSlot("user:1000"))
}
