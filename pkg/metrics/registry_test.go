package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("v0.1.0", "abc123")
	SetBuildInfo("v0.2.0", "def456")

	assert.Equal(t, 1, testutil.CollectAndCount(buildInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(buildInfo.WithLabelValues("v0.2.0", "def456")))
}
