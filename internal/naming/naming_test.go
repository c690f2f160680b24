package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravindu644/droidspaces/internal/dserr"
	"github.com/ravindu644/droidspaces/internal/fsio"
)

func writeOSRelease(t *testing.T, fs *fsio.FS, rootfs, id, version string) {
	t.Helper()
	content := "ID=\"" + id + "\"\nVERSION_ID=\"" + version + "\"\n"
	require.NoError(t, fs.WriteFileAll(rootfs+"/etc/os-release", []byte(content), 0644))
}

func TestAutoNameNoCollision(t *testing.T) {
	fs := fsio.NewMem()
	writeOSRelease(t, fs, "/rootfs", "debian", "12")

	name, err := AutoName(fs, "/rootfs", nil)
	require.NoError(t, err)
	assert.Equal(t, "debian-12", name)
}

func TestAutoNameAppendsSuffixOnCollision(t *testing.T) {
	fs := fsio.NewMem()
	writeOSRelease(t, fs, "/rootfs", "debian", "12")

	running := map[string]bool{"debian-12": true, "debian-12-1": true}
	name, err := AutoName(fs, "/rootfs", running)
	require.NoError(t, err)
	assert.Equal(t, "debian-12-2", name)
}

func TestAutoNameMissingOSReleaseIsRootfsNotFound(t *testing.T) {
	fs := fsio.NewMem()

	_, err := AutoName(fs, "/rootfs", nil)
	assert.Error(t, err)
	assert.Equal(t, dserr.KindRootfsNotFound, dserr.KindOf(err))
}

func TestAutoNameFallsBackToLinuxWithoutID(t *testing.T) {
	fs := fsio.NewMem()
	require.NoError(t, fs.WriteFileAll("/rootfs/etc/os-release", []byte("FOO=bar\n"), 0644))

	name, err := AutoName(fs, "/rootfs", nil)
	require.NoError(t, err)
	assert.Equal(t, "linux", name)
}

func TestWriteReadRemovePidfile(t *testing.T) {
	fs := fsio.NewMem()

	require.NoError(t, WritePidfile(fs, "/ws", "c1", 4242))

	pid, err := ReadPidfile(fs, "/ws", "c1")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, RemovePidfile(fs, "/ws", "c1"))
	_, err = ReadPidfile(fs, "/ws", "c1")
	assert.Error(t, err)
}

func TestReadPidfileNonNumericIsStaleState(t *testing.T) {
	fs := fsio.NewMem()
	require.NoError(t, fs.WriteFileAll(PidfilePath("/ws", "c1"), []byte("not-a-pid"), 0644))

	_, err := ReadPidfile(fs, "/ws", "c1")
	assert.Error(t, err)
	assert.Equal(t, dserr.KindStaleState, dserr.KindOf(err))
}

func TestMountSidecarPath(t *testing.T) {
	assert.Equal(t, "/ws/Pids/c1.mount", MountSidecarPath("/ws", "c1"))
	assert.Equal(t, "/ws/Pids/c1.pid", PidfilePath("/ws", "c1"))
}
