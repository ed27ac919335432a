package probe

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlive_CurrentProcessIsAlive(t *testing.T) {
	require.True(t, Alive(os.Getpid()))
}

func TestAlive_ZeroOrNegativePidIsNotAlive(t *testing.T) {
	require.False(t, Alive(0))
	require.False(t, Alive(-1))
}
