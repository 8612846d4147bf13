package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMol2(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ligand.mol2")
	require.NoError(t, os.WriteFile(path, []byte("@<TRIPOS>MOLECULE\nLIG\n"), 0o600))
	return path
}

func TestNormalize_NonCovalentDefaults(t *testing.T) {
	t.Parallel()

	p, err := Normalize(Parameters{Mode: ModeNonCovalent, Filename: writeMol2(t)})
	require.NoError(t, err)

	assert.Equal(t, DefaultApproach, p.Approach)
	assert.Equal(t, DefaultHydrogen, p.Hydrogen)
	assert.Empty(t, p.Topology, "topology is covalent-only")
	assert.False(t, p.IsCovalent())
}

func TestNormalize_CovalentDefaults(t *testing.T) {
	t.Parallel()

	p, err := Normalize(Parameters{
		Mode:     ModeCovalent,
		Filename: writeMol2(t),
		Ligand:   "C5",
		Reaction: "michael_add",
		Protres:  "cys",
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultTopology, p.Topology)
	assert.Equal(t, "CYS", p.Protres)
	assert.True(t, p.IsCovalent())
}

func TestNormalize_Rejects(t *testing.T) {
	t.Parallel()

	mol2 := writeMol2(t)
	covalent := func(mut func(*Parameters)) Parameters {
		p := Parameters{Mode: ModeCovalent, Filename: mol2, Ligand: "C5", Reaction: "michael_add", Protres: "CYS"}
		mut(&p)
		return p
	}

	tests := []struct {
		name      string
		in        Parameters
		wantField string
	}{
		{"missing mode", Parameters{Filename: mol2}, "covalent"},
		{"unknown mode", Parameters{Mode: "semi", Filename: mol2}, "covalent"},
		{"missing file", Parameters{Mode: ModeNonCovalent}, "filename"},
		{"nonexistent file", Parameters{Mode: ModeNonCovalent, Filename: filepath.Join(t.TempDir(), "nope.mol2")}, "filename"},
		{"directory as file", Parameters{Mode: ModeNonCovalent, Filename: t.TempDir()}, "filename"},
		{"bad approach", Parameters{Mode: ModeNonCovalent, Filename: mol2, Approach: "guess"}, "approach"},
		{"bad hydrogen", Parameters{Mode: ModeNonCovalent, Filename: mol2, Hydrogen: "maybe"}, "hydrogen"},
		{"covalent field in non-covalent", Parameters{Mode: ModeNonCovalent, Filename: mol2, Ligand: "C5"}, "covalent"},
		{"bad charm", Parameters{Mode: ModeNonCovalent, Filename: mol2, Charm: "c36"}, "charm"},
		{"covalent missing reaction", covalent(func(p *Parameters) { p.Reaction = "" }), "covalent"},
		{"covalent missing ligand", covalent(func(p *Parameters) { p.Ligand = "" }), "covalent"},
		{"covalent bad reaction", covalent(func(p *Parameters) { p.Reaction = "click" }), "reaction"},
		{"covalent bad residue", covalent(func(p *Parameters) { p.Protres = "ALA" }), "protres"},
		{"covalent bad topology", covalent(func(p *Parameters) { p.Topology = "post" }), "topology"},
		{"approach in covalent", covalent(func(p *Parameters) { p.Approach = "both" }), "covalent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tt.in)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestQueryParams(t *testing.T) {
	t.Parallel()

	mol2 := writeMol2(t)

	nc, err := Normalize(Parameters{Mode: ModeNonCovalent, Filename: mol2, Approach: "mmff-based", Charm: "c27"})
	require.NoError(t, err)
	assert.Equal(t, "mmff-based", nc.QueryParams().Get("approach"))
	assert.Equal(t, "yes", nc.QueryParams().Get("hydrogen"))
	assert.False(t, nc.QueryParams().Has("ligsite"))
	assert.Equal(t, "c27", nc.FormFields().Get("charm"))

	cov, err := Normalize(Parameters{
		Mode: ModeCovalent, Filename: mol2,
		Ligand: "C5", Reaction: "epoxide_open", Protres: "SER", DeleteAtoms: "H12",
	})
	require.NoError(t, err)
	q := cov.QueryParams()
	assert.Equal(t, "C5", q.Get("ligsite"))
	assert.Equal(t, "epoxide_open", q.Get("reaction"))
	assert.Equal(t, "SER", q.Get("protres"))
	assert.Equal(t, "post-cap", q.Get("topology"))
	assert.Equal(t, "H12", q.Get("delete"))
	assert.False(t, q.Has("approach"))
	assert.Empty(t, cov.FormFields())
}

func TestValueSetsAreCopies(t *testing.T) {
	t.Parallel()

	r := Reactions()
	r[0] = "mutated"
	assert.NotEqual(t, "mutated", Reactions()[0])
}
