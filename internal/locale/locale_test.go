package locale

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToC(t *testing.T) {
	n := New("  ")
	assert.Equal(t, DefaultTag, n.Tag)
	assert.Equal(t, map[string]string{"LANG": "C", "LC_ALL": "C"}, n.Env())
}

func TestEnvUsesTag(t *testing.T) {
	n := New("en_US.UTF-8")
	env := n.Env()
	assert.Equal(t, "en_US.UTF-8", env["LANG"])
	assert.Equal(t, "en_US.UTF-8", env["LC_ALL"])
}

func TestEnvDoesNotTouchProcess(t *testing.T) {
	t.Setenv("LC_ALL", "de_DE.UTF-8")
	n := New("C")
	_ = n.Env()
	assert.Equal(t, "de_DE.UTF-8", os.Getenv("LC_ALL"))
}

func TestSnapshotCapturesEnvironment(t *testing.T) {
	t.Setenv("CPCONFORM_SNAPSHOT_PROBE", "a=b")
	n := New("")
	val, ok := n.Snapshot.Lookup("CPCONFORM_SNAPSHOT_PROBE")
	require.True(t, ok)
	assert.Equal(t, "a=b", val)
	assert.Contains(t, n.Snapshot.Environ(), "CPCONFORM_SNAPSHOT_PROBE=a=b")
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Setenv("CPCONFORM_SNAPSHOT_PROBE", "before")
	snap := Capture()
	require.NoError(t, os.Setenv("CPCONFORM_SNAPSHOT_PROBE", "after"))
	val, _ := snap.Lookup("CPCONFORM_SNAPSHOT_PROBE")
	assert.Equal(t, "before", val)
}

func TestApplyRestores(t *testing.T) {
	t.Setenv("LANG", "fr_FR.UTF-8")
	t.Setenv("LC_ALL", "")
	require.NoError(t, os.Unsetenv("LC_ALL"))

	restore, err := New("C").Apply()
	require.NoError(t, err)
	assert.Equal(t, "C", os.Getenv("LANG"))
	assert.Equal(t, "C", os.Getenv("LC_ALL"))

	restore()
	assert.Equal(t, "fr_FR.UTF-8", os.Getenv("LANG"))
	_, ok := os.LookupEnv("LC_ALL")
	assert.False(t, ok)
}
