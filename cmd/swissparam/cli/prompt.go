package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
)

// isTerminal is replaced in tests.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

// promptParameters asks for the run parameters, starting from the values
// already given as flags. Only the fields that apply to the chosen mode
// are shown.
func promptParameters(p *params.Parameters) error {
	if !isTerminal() {
		return usageError("--interactive needs a terminal; pass the parameters as flags instead")
	}

	mode := string(p.Mode)
	if mode == "" {
		mode = string(params.ModeNonCovalent)
	}
	if p.Approach == "" {
		p.Approach = params.DefaultApproach
	}
	if p.Hydrogen == "" {
		p.Hydrogen = params.DefaultHydrogen
	}
	if p.Topology == "" {
		p.Topology = params.DefaultTopology
	}
	charm := p.Charm
	if charm == "" {
		charm = "none"
	}

	isCovalent := func() bool { return mode == string(params.ModeCovalent) }

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Parameterization mode").
				Options(huh.NewOptions(params.Modes()...)...).
				Value(&mode),
			huh.NewInput().
				Title("Molecule file (mol2)").
				Value(&p.Filename).
				Validate(required("a molecule file")),
			huh.NewSelect[string]().
				Title("CHARMM parameter set").
				Options(huh.NewOptions(append([]string{"none"}, params.CharmSets()...)...)...).
				Value(&charm),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Approach").
				Options(huh.NewOptions(params.Approaches()...)...).
				Value(&p.Approach),
			huh.NewSelect[string]().
				Title("Add hydrogens").
				Options(huh.NewOptions("yes", "no")...).
				Value(&p.Hydrogen),
		).WithHideFunc(isCovalent),
		huh.NewGroup(
			huh.NewInput().
				Title("Ligand atom bound to the protein").
				Value(&p.Ligand).
				Validate(required("the ligand atom")),
			huh.NewSelect[string]().
				Title("Reaction").
				Options(huh.NewOptions(params.Reactions()...)...).
				Value(&p.Reaction),
			huh.NewSelect[string]().
				Title("Protein residue").
				Options(huh.NewOptions(params.Residues()...)...).
				Value(&p.Protres),
			huh.NewSelect[string]().
				Title("Topology").
				Options(huh.NewOptions(params.Topologies()...)...).
				Value(&p.Topology),
			huh.NewInput().
				Title("Atoms to delete (optional, comma separated)").
				Value(&p.DeleteAtoms),
		).WithHideFunc(func() bool { return !isCovalent() }),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return lifecycle.ErrCancelled
		}
		return err
	}

	p.Mode = params.Mode(mode)
	p.Charm = ""
	if charm != "none" {
		p.Charm = charm
	}
	// Fields of the other mode carry prompt defaults; drop them.
	if isCovalent() {
		p.Approach, p.Hydrogen = "", ""
	} else {
		p.Ligand, p.Reaction, p.Protres, p.Topology, p.DeleteAtoms = "", "", "", "", ""
	}
	return nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(what + " is required")
		}
		return nil
	}
}
