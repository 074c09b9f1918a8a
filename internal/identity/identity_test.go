package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGUID(t *testing.T) {
	var zero GUID
	assert.True(t, zero.IsZero())

	g := NewGUID()
	assert.False(t, g.IsZero())
	assert.NotEqual(t, g, NewGUID())

	parsed, err := ParseGUID(g.String())
	require.NoError(t, err)
	assert.Equal(t, g, parsed)

	_, err = ParseGUID("not-a-guid")
	assert.Error(t, err)
}

func TestSampleIdentityText(t *testing.T) {
	s := SampleIdentity{Writer: NewGUID(), Sequence: 42}
	assert.False(t, s.IsZero())
	assert.True(t, SampleIdentity{}.IsZero())

	parsed, err := ParseSampleIdentity(s.String())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
}

func TestParseSampleIdentityErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"no-separator",
		"bad-guid:1",
		NewGUID().String() + ":-1",
		NewGUID().String() + ":x",
	} {
		_, err := ParseSampleIdentity(in)
		assert.ErrorIs(t, err, ErrInvalidSampleIdentity, "input %q", in)
	}
}
