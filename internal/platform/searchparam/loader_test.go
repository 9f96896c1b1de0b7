package searchparam

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extensionYAML = `parameters:
  - code: nickname
    type: string
    base: [Patient]
    path: ["name[use=nickname]"]
  - code: attending
    type: reference
    base: [Encounter]
    target: [Practitioner]
    path: ["participant[type=ATND].individual"]
`

func TestDecode(t *testing.T) {
	defs, err := Decode(strings.NewReader(extensionYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, TypeString, defs[0].Type)
	assert.Equal(t, []string{"Practitioner"}, defs[1].Targets)

	_, err = Decode(strings.NewReader("parameters:\n  - code: x\n    type: bogus\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("parameters:\n  - code: x\n    kind: string\n"))
	assert.Error(t, err, "unknown fields are rejected")

	defs, err = Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Default().Params("Library")))
	defs, err := Decode(&buf)
	require.NoError(t, err)
	assert.Len(t, defs, len(Default().Params("Library")))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(extensionYAML), 0o600))

	reg, err := LoadFile(Default(), path)
	require.NoError(t, err)
	d, ok := reg.Lookup("Encounter", "attending")
	require.True(t, ok)
	assert.Equal(t, TypeReference, d.Type)

	_, err = LoadFile(Default(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProvider_ForTenant(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(extensionYAML), 0o600))

	p := NewProvider(Default(), dir, time.Minute)

	reg, err := p.ForTenant("acme")
	require.NoError(t, err)
	_, ok := reg.Lookup("Patient", "nickname")
	assert.True(t, ok)

	again, err := p.ForTenant("acme")
	require.NoError(t, err)
	assert.Same(t, reg, again)

	reg, err = p.ForTenant("other")
	require.NoError(t, err)
	assert.Same(t, Default(), reg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("parameters: [\n"), 0o600))
	_, err = p.ForTenant("broken")
	assert.Error(t, err)
}
