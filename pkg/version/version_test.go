package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	saved := GitVersion
	t.Cleanup(func() { GitVersion = saved })

	GitVersion = "v1.2.3"
	assert.Equal(t, "objclient/v1.2.3", ClientID())
	assert.Equal(t, "gitVersion=v1.2.3, gitCommit="+GitCommit, String())
}
