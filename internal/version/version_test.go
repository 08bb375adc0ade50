package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentDefaults(t *testing.T) {
	b := Current()
	assert.Equal(t, GetVersion(), b.Version)
	assert.Equal(t, runtime.Version(), b.GoVersion)
	assert.NotEmpty(t, b.Commit)
}

func TestCurrentFollowsLinkerFlags(t *testing.T) {
	prevVersion, prevCommit := version, commit
	version, commit = "1.4.0", "9f2c1ab"
	t.Cleanup(func() { version, commit = prevVersion, prevCommit })

	b := Current()
	assert.Equal(t, "1.4.0", GetVersion())
	assert.Equal(t, "shopcore 1.4.0 (commit 9f2c1ab, built "+b.Date+", "+b.GoVersion+")", b.String())
}
