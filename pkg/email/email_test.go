package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize("  Rakoto.Jean@ITO.mg ")
	require.NoError(t, err)
	assert.Equal(t, "Rakoto.Jean@ito.mg", got)

	for _, in := range []string{
		"",
		"rakoto",
		"rakoto@",
		"@ito.mg",
		"rakoto@localhost",
		"Rakoto <rakoto@ito.mg>",
		"a@ito.mg, b@ito.mg",
	} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}
