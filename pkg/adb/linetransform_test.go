package adb

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTransform(t *testing.T) {
	lt := NewLineTransform()
	assert.Equal(t, "a\nb\n", string(lt.Transform([]byte("a\r\nb\r\n"))))
	assert.Nil(t, lt.Flush())
}

func TestLineTransformSplitCRLF(t *testing.T) {
	lt := NewLineTransform()

	first := lt.Transform([]byte("a\r"))
	second := lt.Transform([]byte("\nb"))
	assert.Equal(t, "a\nb", string(first)+string(second))
}

func TestLineTransformLoneCR(t *testing.T) {
	lt := NewLineTransform()

	out := lt.Transform([]byte("a\r"))
	assert.Equal(t, "a", string(out))
	// 后面没有\n，悬挂的\r要还回来
	assert.Equal(t, []byte{0x0d}, lt.Flush())
}

func TestTransformReader(t *testing.T) {
	r := NewTransformReader(strings.NewReader("line one\r\nline two\r\n"))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(out))
}

func TestTransformReaderTrailingCR(t *testing.T) {
	r := NewTransformReader(strings.NewReader("tail\r"))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "tail\r", string(out))
}
