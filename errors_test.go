package tcmu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("read_at", unix.ENOSPC)
	require.True(t, IsCode(err, ErrCodeInsufficientMemory))

	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, unix.ENOSPC, e.Errno)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("op", nil))
}

func TestNewDeviceErrorIncludesDevID(t *testing.T) {
	err := NewDeviceError("new_device", "dev7", ErrCodeInvalidParameters, "backend required")
	require.ErrorContains(t, err, "dev7")
	require.True(t, IsCode(err, ErrCodeInvalidParameters))
}
