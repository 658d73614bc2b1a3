package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSize_BinarySuffix(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"1024":  1024,
		"1k":    1 << 10,
		"32M":   32 << 20,
		"2G":    2 << 30,
		"2^20":  1 << 20,
		"16^2":  256,
	}

	for input, want := range cases {
		got, err := ParseSize(input)
		require.NoErrorf(t, err, input)
		require.Equalf(t, want, got, input)
	}
}

func TestParseSize_Rejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "k", "4k^2", "1.5M"} {
		_, err := ParseSize(input)
		require.Errorf(t, err, input)
	}
}

func TestParseMetric(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"5":     5,
		"2.5m":  2.5e-3,
		"100u":  100e-6,
		"1n":    1e-9,
		"3k":    3e3,
	}

	for input, want := range cases {
		got, err := ParseMetric(input)
		require.NoErrorf(t, err, input)
		require.InDeltaf(t, want, got, 1e-15, input)
	}
}

func TestLoad_LayersFileEnvArgs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/shades.conf"
	require.NoError(t, os.WriteFile(path, []byte("db-path = file.db\nheap-size = 16M\n"), 0o644))

	environ := []string{"SHADES_HEAP_SIZE=32M"}
	args := []string{"--log-level=debug"}

	c, err := Load(path, environ, args)
	require.NoError(t, err)
	require.Equal(t, "file.db", c.DBPath)
	require.EqualValues(t, 32<<20, c.HeapSize) // env overrides file
	require.Equal(t, "debug", c.LogLevel)       // args override both
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	c, err := Load("/nonexistent/shades.conf", nil, nil)
	require.NoError(t, err)
	require.Equal(t, Default().DBPath, c.DBPath)
}

func TestSet_UnknownField(t *testing.T) {
	t.Parallel()

	c := Default()
	err := c.Set("bogus", "x")
	require.ErrorIs(t, err, ErrUnknownField)
}
