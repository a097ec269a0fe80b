package tcmu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func cawCDB(lba uint64, blocksPerHalf uint32) []byte {
	cdb := make([]byte, 16)
	cdb[0] = 0x89
	for i := 0; i < 8; i++ {
		cdb[9-i] = byte(lba >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		cdb[13-i] = byte(blocksPerHalf >> (8 * i))
	}
	return cdb
}

// Scenario: COMPARE_AND_WRITE whose compare half matches storage writes the
// second half and completes GOOD (spec.md §4.6/§8).
func TestCAWSuccess(t *testing.T) {
	backend := NewMockBackend(4096)
	dev, transport := newTestDevice(t, backend)

	existing := make([]byte, 512)
	copy(existing, "current-block-contents-at-lba0-")
	seed := NewCommand(write10(0, 1), [][]byte{existing})
	dev.Route(context.Background(), seed)
	transport.Wait(1)
	require.Equal(t, StatusGood, transport.Completions()[0].Status)

	newData := make([]byte, 512)
	copy(newData, "freshly-written-block-contents!")

	iov := make([]byte, 1024)
	copy(iov[:512], existing)
	copy(iov[512:], newData)

	cdb := cawCDB(0, 1)
	cmd := NewCommand(cdb, [][]byte{iov})
	dev.Route(context.Background(), cmd)

	transport.Wait(2)
	completions := transport.Completions()
	require.Len(t, completions, 2)
	require.Equal(t, StatusGood, completions[1].Status)
	require.Equal(t, newData, backend.Contents()[:512])
}

// Scenario: COMPARE_AND_WRITE whose compare half mismatches storage
// finishes MISCOMPARE without ever issuing the write half (spec.md §4.6).
func TestCAWMiscompare(t *testing.T) {
	backend := NewMockBackend(4096)
	dev, transport := newTestDevice(t, backend)

	existing := make([]byte, 512)
	copy(existing, "current-block-contents-at-lba0-")
	seed := NewCommand(write10(0, 1), [][]byte{existing})
	dev.Route(context.Background(), seed)
	transport.Wait(1)

	wrongExpected := make([]byte, 512)
	copy(wrongExpected, "this-does-not-match-whats-there-")
	newData := make([]byte, 512)
	copy(newData, "would-be-written-if-compare-won!")

	iov := make([]byte, 1024)
	copy(iov[:512], wrongExpected)
	copy(iov[512:], newData)

	cdb := cawCDB(0, 1)
	cmd := NewCommand(cdb, [][]byte{iov})
	dev.Route(context.Background(), cmd)

	transport.Wait(2)
	completions := transport.Completions()
	require.Len(t, completions, 2)
	require.Equal(t, StatusCheckCondition, completions[1].Status)
	require.Equal(t, SenseMiscompare, SenseKey(completions[1].Cmd.Sense[2]))
	require.Equal(t, existing, backend.Contents()[:512], "storage must be unchanged after a miscompare")
	require.Equal(t, 1, backend.WriteCalls(), "only the seed write, never the CAW write half")
}
