package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventAccessors(t *testing.T) {
	var ev Event
	assert.Equal(t, "", ev.Message())

	ev.Set(FieldMessage, "hello")
	ev.Set("count", 3)
	assert.Equal(t, "hello", ev.Message())

	count, ok := ev.GetString("count")
	assert.True(t, ok)
	assert.Equal(t, "3", count)

	_, ok = ev.GetString("missing")
	assert.False(t, ok)
}

func TestEventAttributes(t *testing.T) {
	ev := NewEvent("x")
	assert.Nil(t, ev.Attributes())

	ev.Set(FieldAttributes, map[string]interface{}{"env": "test", "n": 1})
	assert.Equal(t, map[string]string{"env": "test", "n": "1"}, ev.Attributes())

	ev.Set(FieldAttributes, map[string]string{"a": "b"})
	assert.Equal(t, map[string]string{"a": "b"}, ev.Attributes())
}
