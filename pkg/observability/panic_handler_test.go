package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "job")
		panic("kaboom")
	}()

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), "kaboom")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	var got interface{}

	func() {
		defer RecoverPanicWithCallback(logger, "worker", func(r interface{}) { got = r })
		panic("bad")
	}()
	assert.Equal(t, "bad", got)

	got = nil
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func(r interface{}) { got = r })
	}()
	assert.Nil(t, got)
}

func TestRecoverToError(t *testing.T) {
	run := func() (err error) {
		defer RecoverToError(&err)
		panic("nil map")
	}
	err := run()
	require.Error(t, err)
	assert.Equal(t, "panic: nil map", err.Error())
}
