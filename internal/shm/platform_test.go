package shm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsBadSize(t *testing.T) {
	_, err := Create(Options{Name: "bad", Size: 0})
	assert.Error(t, err)
}

func TestCreateClose(t *testing.T) {
	obj, err := Create(Options{Name: "hostsys-test", Size: 1 << 16})
	if errors.Is(err, ErrUnsupported) {
		t.Skipf("platform not implemented: %v", err)
	}
	require.NoError(t, err)
	assert.GreaterOrEqual(t, obj.Fd, 0)
	assert.Equal(t, int64(1<<16), obj.Size)
	assert.Equal(t, "hostsys-test", obj.Name)

	require.NoError(t, obj.Close())
	assert.Equal(t, -1, obj.Fd)
	assert.NoError(t, obj.Close(), "second close is a no-op")
}

func TestCreateAnonymous(t *testing.T) {
	a, err := Create(Options{Size: 4096})
	if errors.Is(err, ErrUnsupported) {
		t.Skip("no shared memory")
	}
	require.NoError(t, err)
	defer a.Close()
	b, err := Create(Options{Size: 4096})
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.Fd, b.Fd)
}
