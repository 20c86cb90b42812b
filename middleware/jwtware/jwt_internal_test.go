package jwtware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsExpiredRecognizesSentinelAndClones(t *testing.T) {
	require.True(t, isExpired(ErrTokenExpired))
	require.True(t, isExpired(ErrTokenExpired.Clone()))
	require.False(t, isExpired(ErrInvalidToken))
	require.False(t, isExpired(errors.New("token is expired")))
}

func TestConfigDefaultPanicsWithoutCollaborators(t *testing.T) {
	require.Panics(t, func() { configDefault() })
	require.Panics(t, func() {
		configDefault(Config{TokenValidator: TokenValidatorFunc(func(string) (Claims, error) { return nil, nil })})
	})
}
