package devicetoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	c := New("secret")
	tok, err := c.Sign("dev-1", time.Hour)
	require.NoError(t, err)

	got, err := c.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := New("secret-a").Sign("dev-1", time.Hour)
	require.NoError(t, err)

	_, err = New("secret-b").Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	c := New("secret")
	tok, err := c.Sign("dev-1", -time.Minute)
	require.NoError(t, err)

	_, err = c.Verify(tok)
	assert.Error(t, err)
}

func TestSignRejectsEmptyDevice(t *testing.T) {
	_, err := New("secret").Sign("", time.Hour)
	assert.Error(t, err)
}
