//go:build linux

package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFastOpenSysctl(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	mode, err := readFastOpenSysctl(write("ok", "3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, mode)

	_, err = readFastOpenSysctl(write("bad", "x\n"))
	require.Error(t, err)

	_, err = readFastOpenSysctl(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewProbe_WrapsCause(t *testing.T) {
	calls := 0
	p := newProbe("thing", func() error {
		calls++
		return os.ErrPermission
	})
	assert.False(t, p.IsAvailable())
	assert.False(t, p.IsAvailable())
	assert.Equal(t, 1, calls)

	var capErr *CapabilityError
	require.ErrorAs(t, p.UnavailabilityCause(), &capErr)
	assert.Equal(t, "thing", capErr.Feature)
	assert.ErrorIs(t, capErr, os.ErrPermission)

	assert.NoError(t, requireCapability(false, p))
	assert.Error(t, requireCapability(true, p))
}
