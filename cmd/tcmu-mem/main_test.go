package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"512":  512,
		"64K":  64 * 1024,
		"64M":  64 * 1024 * 1024,
		"1G":   1024 * 1024 * 1024,
		"2g":   2 * 1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseSize(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	_, err := parseSize("not-a-size")
	require.Error(t, err)
}

func TestFormatSizeRoundTrips(t *testing.T) {
	require.Equal(t, "64.0 MB", formatSize(64*1024*1024))
	require.Equal(t, "512 B", formatSize(512))
	require.Equal(t, "1.0 GB", formatSize(1024*1024*1024))
}

func TestWriteReadCDBOpcodes(t *testing.T) {
	w := write10CDB(5, 2)
	require.Equal(t, byte(0x2A), w[0])
	r := read10CDB(5, 2)
	require.Equal(t, byte(0x28), r[0])
	require.Equal(t, w[2:9], r[2:9], "read/write CDBs must agree on LBA/length fields")
}
