package repair

import (
	"fmt"

	"strata/internal/blobstore"
	"strata/internal/errors"
	"strata/internal/metalog"
	"strata/internal/mutation"
	"strata/internal/nodeset"
	"strata/internal/repo"
	"strata/internal/tracing"
	"strata/internal/ui"
)

// Options control a doctor run.
type Options struct {
	// Lookback is the initial quick-check window; zero takes the
	// repository's configured value.
	Lookback int

	// ScanWindow bounds the treestate root search before each marker;
	// zero takes the repository's configured value.
	ScanWindow int

	// DryRun reports what would be fixed without modifying anything.
	DryRun bool
}

// Doctor checks and repairs a repository's internal storage.
type Doctor struct {
	UI     *ui.UI
	Tracer *tracing.Tracer
	Repo   *repo.Repo
	Opts   Options

	// ExternalDoctor, when set, runs after the internal storage checks
	// on repositories carrying the "eden" requirement.
	ExternalDoctor func() error
}

// New builds a Doctor. A nil tracer disables tracing; zero option
// fields fall back to the repository's configured values.
func New(r *repo.Repo, u *ui.UI, tracer *tracing.Tracer, opts Options) *Doctor {
	if tracer == nil {
		tracer = tracing.Nop()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = r.Config.Doctor.InitialLookback
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = r.Config.Doctor.ScanWindow
	}
	return &Doctor{UI: u, Tracer: tracer, Repo: r, Opts: opts}
}

// Run checks every internal store in dependency order, fixing what it
// can. A non-nil error means the repository is beyond what the doctor
// can do and the process should exit non-zero; per-store failures are
// warned about and skipped.
func (d *Doctor) Run() error {
	d.UI.Writef("checking internal storage\n")

	if d.Repo.Config.Mutation.Enabled {
		d.repairBackend("mutation", d.Repo.Store.Join("mutation"), mutation.Repair)
	}

	cl, err := RepairChangelog(d.UI, d.Repo.Store, d.Opts)
	if err != nil {
		return err
	}
	if cl == nil {
		// Most fixes below need a working changelog.
		return errors.Corruptionf("changelog: cannot fix automatically (consider reclone)")
	}
	defer cl.Close()

	metalogPath := d.Repo.Store.Join("metalog")
	d.repairBackend("metalog", metalogPath, metalog.Repair)
	ml, err := metalog.Open(metalogPath)
	if err != nil {
		return fmt.Errorf("opening metadata log: %w", err)
	}
	defer ml.Close()

	if err := RepairVisibleHeads(d.UI, ml, cl, d.Opts.DryRun); err != nil {
		return err
	}
	if err := RepairTreestate(d.UI, d.Repo.Dot, cl, d.Opts); err != nil {
		return err
	}

	if d.Repo.Store.IsDir("allheads") {
		d.repairBackend("allheads", d.Repo.Store.Join("allheads"), nodeset.Repair)
	}

	if d.Repo.HasRequirement("remotecontent") && d.Repo.Config.RemoteContent.Enabled {
		d.repairBackend("datastore", d.Repo.Store.Join("datastore"), blobstore.RepairData)
		d.repairBackend("historystore", d.Repo.Store.Join("historystore"), blobstore.RepairHistory)
	}

	if d.Repo.HasRequirement("eden") && d.ExternalDoctor != nil {
		d.UI.Writef("running external doctor\n")
		if err := d.ExternalDoctor(); err != nil {
			d.UI.Warnf("external doctor: %s", err)
		}
	}
	return nil
}
