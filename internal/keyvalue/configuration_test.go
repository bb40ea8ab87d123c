package keyvalue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
# global section
global.car = Hesperia
global.scenario = file://Track.scnx

proxy.camera.width = 640   # pixels
proxy.camera.height = 480
Proxy.Camera.Name = front
odsimvehicle.freq = 10
`

func TestParse(t *testing.T) {
	cfg, err := ParseString(sample)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Len())
	v, ok := cfg.Value("GLOBAL.CAR")
	assert.True(t, ok)
	assert.Equal(t, "Hesperia", v)
	assert.Equal(t, "640", cfg.ValueOr("proxy.camera.width", "0"))
	assert.Equal(t, "front", cfg.ValueOr("proxy.camera.name", ""))

	n, err := cfg.Int("odsimvehicle.freq")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestParse_Malformed(t *testing.T) {
	_, err := ParseString("just a line without separator")
	assert.Error(t, err)

	_, err = ParseString(" = value")
	assert.Error(t, err)
}

func TestSubset_IsPure(t *testing.T) {
	cfg, err := ParseString(sample)
	require.NoError(t, err)

	camera := cfg.SubsetFor("proxy.camera.")
	assert.Equal(t, 3, camera.Len())
	_, ok := camera.Value("proxy.camera.width")
	assert.True(t, ok)

	stripped := cfg.SubsetForStripped("proxy.camera.")
	assert.Equal(t, []string{"height", "name", "width"}, stripped.Keys())

	// the source configuration is left untouched
	assert.Equal(t, 6, cfg.Len())
	_, ok = cfg.Value("width")
	assert.False(t, ok)
}

func TestMergeAndString(t *testing.T) {
	a := New(map[string]string{"a.x": "1", "a.y": "2"})
	b := New(map[string]string{"a.y": "3"})

	merged := a.Merge(b)
	assert.Equal(t, "3", merged.ValueOr("a.y", ""))
	assert.Equal(t, "2", a.ValueOr("a.y", ""))

	back, err := ParseString(merged.String())
	require.NoError(t, err)
	assert.Equal(t, merged.Map(), back.Map())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configuration")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
