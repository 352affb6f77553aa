package fusion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultPolicyIsValid(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
}

func TestLoadPolicyOverridesOnlyGivenKeys(t *testing.T) {
	path := writePolicy(t, `combiner:
  boostFactor: 0.3
satellite:
  bands:
    - maxAbsLatitude: 25
      factor: 140
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 0.3, p.Combiner.BoostFactor)
	assert.Equal(t, 15.0, p.Combiner.SingleScale)
	require.Len(t, p.Satellite.Bands, 1)
	assert.Equal(t, 140.0, p.RegionalFactor(20))
	assert.Equal(t, 100.0, p.RegionalFactor(40))
}

func TestLoadPolicyRejectsBadWeights(t *testing.T) {
	path := writePolicy(t, `station:
  countWeight: 0.5
`)
	_, err := LoadPolicy(path)
	assert.ErrorContains(t, err, "sum to 1")
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
