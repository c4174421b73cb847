package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanBytes(t *testing.T) {
	require.Equal(t, "42 B", HumanBytes(42))
	require.Equal(t, "1.5 KB", HumanBytes(1500))
	require.Equal(t, "2.5 MB", HumanBytes(2500000))
	require.Equal(t, "1.1 GB", HumanBytes(1100000000))
}

func TestHumanNumber(t *testing.T) {
	require.Equal(t, "999", HumanNumber(999))
	require.Equal(t, "26K", HumanNumber(26200))
	require.Equal(t, "1.3M", HumanNumber(1300000))
}
