package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	t.Run("extra keys ignored by default", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"left":{"connected":true,"address":"x"},"scanning":false}`, `{"left":{"connected":true},"scanning":false}`)
		assert.Empty(t, rt.failures)
	})

	t.Run("value mismatch reported", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"scanning":true}`, `{"scanning":false}`)
		assert.Len(t, rt.failures, 1)
	})

	t.Run("extra keys reported when strict", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(false)).Assert(`{"a":1,"b":2}`, `{"a":1}`)
		assert.Len(t, rt.failures, 1)
	})

	t.Run("presence placeholder", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"ts":12345,"v":[1,2]}`, `{"ts":"<<PRESENCE>>","v":[1,2]}`)
		assert.Empty(t, rt.failures)

		rt = &recordingT{}
		NewJSONAsserter(rt).Assert(`{"v":[1,2]}`, `{"ts":"<<PRESENCE>>","v":[1,2]}`)
		assert.Len(t, rt.failures, 1, "placeholder MUST still require the key")
	})

	t.Run("ignored fields", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).WithOptions(WithIgnoredFields("frames")).
			Assert(`{"left":{"frames":10}}`, `{"left":{"frames":3}}`)
		assert.Empty(t, rt.failures)
	})

	t.Run("root arrays", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`[1,2,3]`, `[1,2,4]`)
		assert.Len(t, rt.failures, 1)
	})

	t.Run("assert value", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).AssertValue(map[string]int{"a": 1}, `{"a":1}`)
		assert.Empty(t, rt.failures)
	})
}

func TestTextAsserter(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).Assert("a  \nb\n\n", "a\nb")
	assert.Empty(t, rt.failures, "trailing whitespace MUST be ignored by default")

	rt = &recordingT{}
	NewTextAsserter(rt).Assert("a\nc", "a\nb")
	if assert.Len(t, rt.failures, 1) {
		assert.Contains(t, rt.failures[0], "-b")
		assert.Contains(t, rt.failures[0], "+c")
	}

	rt = &recordingT{}
	NewTextAsserter(rt).WithOptions(WithTrimSpace(false), WithIgnoreTrailingWhitespace(false)).Assert("a ", "a")
	assert.Len(t, rt.failures, 1)
}
