package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stamp overrides the build identity for the rest of the test.
func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })
	Version, Commit, Date = version, commit, date
}

func TestGetInfo(t *testing.T) {
	stamp(t, "1.2.0", "0123456789abcdef", "2026-03-01T08:00:00Z")

	info := GetInfo()
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, "2026-03-01T08:00:00Z", info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestStringStampedBuild(t *testing.T) {
	stamp(t, "1.2.0", "0123456789abcdef", "2026-03-01T08:00:00Z")

	s := String()
	assert.Contains(t, s, "ttshub version 1.2.0")
	assert.Contains(t, s, "commit: 01234567")
	assert.NotContains(t, s, "0123456789abcdef", "commit is abbreviated")
	assert.Contains(t, s, "built: 2026-03-01T08:00:00Z")
}

func TestStringDevBuild(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	s := String()
	assert.Contains(t, s, "ttshub version dev")
	assert.NotContains(t, s, "commit:")
	assert.NotContains(t, s, "unknown")
}

func TestShort(t *testing.T) {
	stamp(t, "1.2.0", "0123456789abcdef", "unknown")
	assert.Equal(t, "ttshub 1.2.0 (01234567)", Short())

	stamp(t, "dev", "unknown", "unknown")
	assert.Equal(t, "ttshub dev", Short())
}

func TestUserAgent(t *testing.T) {
	stamp(t, "1.2.0", "unknown", "unknown")
	assert.Equal(t, "ttshub/1.2.0", UserAgent())
}

func TestShortCommitRequiresRealSHA(t *testing.T) {
	stamp(t, "dev", "abc", "unknown")
	assert.Empty(t, shortCommit(), "truncated stamps stay hidden")

	stamp(t, "dev", "unknown", "unknown")
	assert.Empty(t, shortCommit())
}
