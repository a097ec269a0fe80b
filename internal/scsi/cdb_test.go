package scsi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func write10(lba uint32, numBlocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = byte(OpWrite10)
	cdb[2] = byte(lba >> 24)
	cdb[3] = byte(lba >> 16)
	cdb[4] = byte(lba >> 8)
	cdb[5] = byte(lba)
	cdb[7] = byte(numBlocks >> 8)
	cdb[8] = byte(numBlocks)
	return cdb
}

func TestClassifyOpcode(t *testing.T) {
	require.Equal(t, FamilyRead, ClassifyOpcode(OpRead10))
	require.Equal(t, FamilyWrite, ClassifyOpcode(OpWrite16))
	require.Equal(t, FamilyFlush, ClassifyOpcode(OpSynchronizeCache))
	require.Equal(t, FamilyCompareAndWrite, ClassifyOpcode(OpCompareAndWrite))
	require.Equal(t, FamilyWriteVerify, ClassifyOpcode(OpWriteVerify10))
	require.Equal(t, FamilyOther, ClassifyOpcode(0xFF))
}

func TestLBAAndTransferLength10(t *testing.T) {
	cdb := write10(0x01020304, 7)
	require.Equal(t, uint64(0x01020304), LBA(cdb))
	require.Equal(t, uint32(7), TransferLength(cdb))
}

func TestLBA6BitMask(t *testing.T) {
	cdb := make([]byte, 6)
	cdb[0] = byte(OpRead6)
	// Top 3 bits of the packed 21-bit LBA field must be masked off.
	cdb[1] = 0xFF
	cdb[2] = 0xFF
	cdb[3] = 0xFF
	require.Equal(t, uint64(0x1FFFFF), LBA(cdb))
}

func TestTransferLength6ZeroMeans256(t *testing.T) {
	cdb := make([]byte, 6)
	cdb[0] = byte(OpWrite6)
	cdb[4] = 0
	require.Equal(t, uint32(256), TransferLength(cdb))
}

func TestLBAAndTransferLengthUnknownOpcode(t *testing.T) {
	cdb := []byte{0xFF, 0, 0, 0, 0, 0}
	require.Equal(t, uint64(0), LBA(cdb))
	require.Equal(t, uint32(0), TransferLength(cdb))
}

func TestLBAEmptyCDB(t *testing.T) {
	require.Equal(t, uint64(0), LBA(nil))
	require.Equal(t, uint32(0), TransferLength(nil))
}

func TestIovecLength(t *testing.T) {
	iov := [][]byte{make([]byte, 10), make([]byte, 5)}
	require.Equal(t, 15, IovecLength(iov))
	require.Equal(t, 0, IovecLength(nil))
}

func TestCompareIovecMatch(t *testing.T) {
	a := []byte("abcdef")
	b := []byte("abcdef")
	require.Equal(t, -1, CompareIovec(a, b, len(a)))
}

func TestCompareIovecMismatchOffset(t *testing.T) {
	a := []byte("abcXef")
	b := []byte("abcdef")
	require.Equal(t, 3, CompareIovec(a, b, len(a)))
}

// A length mismatch after the compared range is byte-for-byte equal still
// counts as a mismatch, reported at the point the shorter slice ran out.
func TestCompareIovecLengthMismatchAfterEqualPrefix(t *testing.T) {
	a := []byte("abc")
	b := []byte("abcdef")
	require.Equal(t, 3, CompareIovec(a, b, 6))
}
