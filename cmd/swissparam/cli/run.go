package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/archive"
	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// runFlags are the flags of the run command.
type runFlags struct {
	mode        string
	filename    string
	approach    string
	hydrogen    string
	ligand      string
	reaction    string
	protres     string
	topology    string
	charm       string
	deleteAtoms string
	output      string
	extract     string
	interactive bool
	noPing      bool
}

func (f runFlags) parameters() params.Parameters {
	return params.Parameters{
		Mode:        params.Mode(f.mode),
		Filename:    f.filename,
		Approach:    f.approach,
		Hydrogen:    f.hydrogen,
		Ligand:      f.ligand,
		Reaction:    f.reaction,
		Protres:     f.protres,
		Topology:    f.topology,
		DeleteAtoms: f.deleteAtoms,
		Charm:       f.charm,
	}
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a molecule and wait for its force-field parameters",
		Long: `Submit a molecule to SwissParam, wait for the job to finish and download
the result archive.

Non-covalent ligands need -c non-covalent and a mol2 file. Covalent ligands
need -c covalent plus the ligand attachment atom (-l), the reaction (-r) and
the protein residue (-p).

Press Ctrl+C at any time to cancel: a submitted job is cancelled on the
server before the command exits.`,
		Example: `  swissparam run -c non-covalent -f ligand.mol2
  swissparam run -c non-covalent -f ligand.mol2 -a mmff-based -o lig.tar.gz
  swissparam run -c covalent -f ligand.mol2 -l 5 -r michael_add -p CYS
  swissparam run -i`,
		Args: noArgs,
		RunE: a.command(func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, f)
		}),
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.mode, "covalent", "c", "", "parameterization mode: "+strings.Join(params.Modes(), " or "))
	fl.StringVarP(&f.filename, "filename", "f", "", "molecule file (mol2)")
	fl.StringVarP(&f.approach, "approach", "a", "", "non-covalent approach: "+strings.Join(params.Approaches(), ", ")+" (default "+params.DefaultApproach+")")
	fl.StringVarP(&f.hydrogen, "hydrogen", "y", "", "non-covalent: add hydrogens, yes or no (default "+params.DefaultHydrogen+")")
	fl.StringVarP(&f.ligand, "ligand", "l", "", "covalent: ligand atom bound to the protein")
	fl.StringVarP(&f.reaction, "reaction", "r", "", "covalent reaction: "+strings.Join(params.Reactions(), ", "))
	fl.StringVarP(&f.protres, "protres", "p", "", "covalent protein residue: "+strings.Join(params.Residues(), ", "))
	fl.StringVarP(&f.topology, "topology", "t", "", "covalent topology: "+strings.Join(params.Topologies(), " or ")+" (default "+params.DefaultTopology+")")
	fl.StringVarP(&f.charm, "charm", "m", "", "CHARMM parameter set: "+strings.Join(params.CharmSets(), " or "))
	fl.StringVarP(&f.deleteAtoms, "delete-atoms", "d", "", "covalent: atoms to delete, comma separated")
	fl.StringVarP(&f.output, "output", "o", "", "result archive path (default from settings, results.tar.gz)")
	fl.StringVar(&f.extract, "extract", "", "unpack the result archive into `DIR`")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "prompt for missing parameters")
	fl.BoolVar(&f.noPing, "no-ping", false, "skip the reachability check before upload")

	return cmd
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	raw := f.parameters()
	if f.interactive {
		if err := promptParameters(&raw); err != nil {
			return err
		}
	}
	raw.Filename = a.path(raw.Filename)

	// Validate before anything touches the network.
	p, err := params.Normalize(raw)
	if err != nil {
		return err
	}

	c, err := a.newClient("")
	if err != nil {
		return err
	}

	output := f.output
	if output == "" {
		output = a.settings.ResultFilename
	}
	output = a.path(output)

	ctrl := lifecycle.NewController(c, lifecycle.Config{
		Output:        output,
		Poll:          a.pollConfig(),
		CancelTimeout: a.settings.RequestTimeout.Std(),
		SkipPing:      f.noPing,
		Store:         a.store(),
		BaseURL:       c.BaseURL(),
		OnChange:      progressPrinter(out),
		Exit:          a.exit,
	})

	fmt.Fprintf(out, "Submitting %s (%s) to %s\n", p.Filename, p.Mode, c.BaseURL())
	path, err := ctrl.Run(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Results saved to %s\n", path)

	if f.extract != "" {
		return extractResults(cmd, path, a.path(f.extract))
	}
	return nil
}

// progressPrinter reports state changes to the user.
func progressPrinter(w io.Writer) func(session.Snapshot) {
	var mu sync.Mutex
	var last session.State
	return func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if snap.State == last {
			return
		}
		last = snap.State
		switch snap.State {
		case session.StateSubmitted:
			fmt.Fprintf(w, "Session %s submitted\n", snap.ID)
		case session.StateCancelled:
			if snap.ID != "" {
				fmt.Fprintf(w, "Session %s cancelled\n", snap.ID)
			}
		default:
			fmt.Fprintf(w, "Session %s: %s\n", snap.ID, snap.State)
		}
	}
}

func extractResults(cmd *cobra.Command, archivePath, dir string) error {
	files, err := archive.Extract(cmd.Context(), archivePath, dir)
	if err != nil {
		return &ExitError{Code: ExitDownload, Message: "failed to extract " + archivePath, Err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d files to %s\n", len(files), dir)
	return nil
}
