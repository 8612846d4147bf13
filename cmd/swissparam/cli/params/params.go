// Package params defines the parameterization request accepted by the
// SwissParam service and validates it before anything is sent over the wire.
package params

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// Mode selects between the two mutually exclusive request types.
type Mode string

const (
	ModeCovalent    Mode = "covalent"
	ModeNonCovalent Mode = "non-covalent"
)

// Defaults applied by Normalize when the user leaves a field empty.
const (
	DefaultApproach = "both"
	DefaultHydrogen = "yes"
	DefaultTopology = "post-cap"
)

var (
	modes      = []string{string(ModeCovalent), string(ModeNonCovalent)}
	reactions  = []string{"aziridine_open", "blac_open", "carbonyl_add", "disulf_form", "epoxide_open", "glac_open", "imine_form", "michael_add", "nitrile_add", "nucl_subst"}
	residues   = []string{"ASP", "CYS", "GLU", "LYS", "SER", "THR", "TYR"}
	topologies = []string{"post-cap", "pre"}
	approaches = []string{"both", "match", "mmff-based"}
	charmSets  = []string{"c22", "c27"}
	yesNo      = []string{"yes", "no"}
)

// Modes returns the accepted values for the mode flag.
func Modes() []string { return slices.Clone(modes) }

// Reactions returns the covalent reactions the service knows about.
func Reactions() []string { return slices.Clone(reactions) }

// Residues returns the protein residues accepted for covalent attachment.
func Residues() []string { return slices.Clone(residues) }

// Topologies returns the accepted covalent topology types.
func Topologies() []string { return slices.Clone(topologies) }

// Approaches returns the non-covalent parameterization strategies.
func Approaches() []string { return slices.Clone(approaches) }

// CharmSets returns the accepted CHARMM force-field versions.
func CharmSets() []string { return slices.Clone(charmSets) }

// ValidationError reports a bad or missing parameter combination. It is
// always raised before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Parameters is the validated request configuration. Treat it as immutable
// once returned by Normalize.
type Parameters struct {
	Mode     Mode
	Filename string

	// Non-covalent only.
	Approach string
	Hydrogen string

	// Covalent only.
	Ligand      string
	Reaction    string
	Protres     string
	Topology    string
	DeleteAtoms string

	// Charm is the optional CHARMM parameter set, valid for both modes.
	Charm string
}

// IsCovalent reports whether the request is a covalent parameterization.
func (p Parameters) IsCovalent() bool {
	return p.Mode == ModeCovalent
}

// Normalize applies mode defaults to raw and validates the result. The
// returned value is safe to hand to the submitter.
func Normalize(raw Parameters) (Parameters, error) {
	p := raw
	p.Mode = Mode(strings.TrimSpace(string(p.Mode)))
	p.Protres = strings.ToUpper(strings.TrimSpace(p.Protres))

	switch p.Mode {
	case ModeNonCovalent:
		if p.Approach == "" {
			p.Approach = DefaultApproach
		}
		if p.Hydrogen == "" {
			p.Hydrogen = DefaultHydrogen
		}
	case ModeCovalent:
		if p.Topology == "" {
			p.Topology = DefaultTopology
		}
	}

	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate checks the mode-specific field requirements and that the molecule
// file exists. It does not apply defaults.
func (p Parameters) Validate() error {
	if p.Mode == "" {
		return &ValidationError{Field: "covalent", Message: "mode is required (covalent or non-covalent)"}
	}
	if err := oneOf("covalent", string(p.Mode), modes); err != nil {
		return err
	}
	if err := checkFile(p.Filename); err != nil {
		return err
	}
	if p.Charm != "" {
		if err := oneOf("charm", p.Charm, charmSets); err != nil {
			return err
		}
	}

	if p.IsCovalent() {
		return p.validateCovalent()
	}
	return p.validateNonCovalent()
}

func (p Parameters) validateCovalent() error {
	var missing []string
	if p.Ligand == "" {
		missing = append(missing, "-l (ligand)")
	}
	if p.Reaction == "" {
		missing = append(missing, "-r (reaction)")
	}
	if p.Protres == "" {
		missing = append(missing, "-p (protres)")
	}
	if len(missing) > 0 {
		return &ValidationError{
			Field:   "covalent",
			Message: "covalent parameterization requires " + strings.Join(missing, ", "),
		}
	}
	if err := oneOf("reaction", p.Reaction, reactions); err != nil {
		return err
	}
	if err := oneOf("protres", p.Protres, residues); err != nil {
		return err
	}
	if p.Topology != "" {
		if err := oneOf("topology", p.Topology, topologies); err != nil {
			return err
		}
	}
	if p.Approach != "" || p.Hydrogen != "" {
		return &ValidationError{Field: "covalent", Message: "-a (approach) and -y (hydrogen) only apply to non-covalent parameterization"}
	}
	return nil
}

func (p Parameters) validateNonCovalent() error {
	if p.Approach != "" {
		if err := oneOf("approach", p.Approach, approaches); err != nil {
			return err
		}
	}
	if p.Hydrogen != "" {
		if err := oneOf("hydrogen", p.Hydrogen, yesNo); err != nil {
			return err
		}
	}
	if p.Ligand != "" || p.Reaction != "" || p.Protres != "" || p.Topology != "" || p.DeleteAtoms != "" {
		return &ValidationError{
			Field:   "covalent",
			Message: "-l, -r, -p, -t and -d only apply to covalent parameterization",
		}
	}
	return nil
}

// QueryParams returns the URL query sent with the upload request.
func (p Parameters) QueryParams() url.Values {
	q := url.Values{}
	if p.IsCovalent() {
		q.Set("ligsite", p.Ligand)
		q.Set("reaction", p.Reaction)
		q.Set("protres", p.Protres)
		q.Set("topology", p.Topology)
		if p.DeleteAtoms != "" {
			q.Set("delete", p.DeleteAtoms)
		}
		return q
	}
	q.Set("approach", p.Approach)
	q.Set("hydrogen", p.Hydrogen)
	return q
}

// FormFields returns the multipart form fields sent next to the molecule file.
func (p Parameters) FormFields() url.Values {
	f := url.Values{}
	if p.Charm != "" {
		f.Set("charm", p.Charm)
	}
	return f
}

func oneOf(field, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")),
	}
}

func checkFile(path string) error {
	if path == "" {
		return &ValidationError{Field: "filename", Message: "a molecule file (-f) is required"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ValidationError{Field: "filename", Message: fmt.Sprintf("the file %q does not exist", path)}
		}
		return &ValidationError{Field: "filename", Message: err.Error()}
	}
	if info.IsDir() {
		return &ValidationError{Field: "filename", Message: fmt.Sprintf("%q is a directory", path)}
	}
	return nil
}
