package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUTF8(t *testing.T) {
	assert.True(t, IsUTF8(""))
	assert.True(t, IsUTF8("utf-8"))
	assert.True(t, IsUTF8("UTF-8"))
	assert.True(t, IsUTF8("utf8"))
	assert.True(t, IsUTF8(" Utf-8 "))
	assert.False(t, IsUTF8("iso-8859-1"))
}

func TestConvert(t *testing.T) {
	c := New()

	t.Run("same charset returns input unchanged", func(t *testing.T) {
		got, err := c.Convert("café", "utf-8", "UTF8")
		require.NoError(t, err)
		assert.Equal(t, "café", got)

		got, err = c.Convert("caf\xe9", "iso-8859-1", "ISO-8859-1")
		require.NoError(t, err)
		assert.Equal(t, "caf\xe9", got)
	})

	t.Run("utf-8 to latin-1 and back round-trips", func(t *testing.T) {
		latin, err := c.Convert("café", "utf-8", "iso-8859-1")
		require.NoError(t, err)
		assert.Equal(t, "caf\xe9", latin)

		back, err := c.Convert(latin, "iso-8859-1", "utf-8")
		require.NoError(t, err)
		assert.Equal(t, "café", back)
	})

	t.Run("non-utf-8 pair goes through utf-8", func(t *testing.T) {
		got, err := c.Convert("caf\xe9", "iso-8859-1", "windows-1252")
		require.NoError(t, err)
		assert.Equal(t, "caf\xe9", got) // same code point in both
	})

	t.Run("unknown charset is an error", func(t *testing.T) {
		_, err := c.Convert("x", "utf-8", "klingon-1")
		assert.Error(t, err)
	})
}

func TestSupported(t *testing.T) {
	names := New().Supported()
	require.NotEmpty(t, names)
	assert.Contains(t, names, "utf-8")
	assert.Contains(t, names, "iso-8859-1")
}
