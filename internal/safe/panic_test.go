package safe

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPanicErr(t *testing.T) {
	err := NewPanicErr("info", []byte("stack"))
	assert.Equal(t, "panic error: info, \nstack: stack", err.Error())
}

func TestRecover(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		panic("boom")
	}

	err := run()
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "panic error: boom"))

	ok := func() (err error) {
		defer Recover(&err)
		return errors.New("plain")
	}
	assert.EqualError(t, ok(), "plain")
}

func TestGo(t *testing.T) {
	got := make(chan error, 1)
	Go(func() { panic("in goroutine") }, func(err error) { got <- err })
	err := <-got
	assert.Contains(t, err.Error(), "in goroutine")
}
