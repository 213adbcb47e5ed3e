// cmd/strata/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"strata/internal/commitcloud"
	"strata/internal/repair"
	"strata/internal/repo"
	"strata/internal/tracing"
	"strata/internal/ui"
)

const version = "0.1.0"

var logger, _ = zap.NewDevelopment()

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata is a source control storage engine that heals itself",
	Long: `Strata keeps history in append-only logs built to survive crashes,
full disks and hard reboots. The doctor command detects and repairs the
corruption such events leave behind, and the cloud commands inspect the
workspace synchronization state kept against the cloud service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new strata repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			if _, err := repo.Init(dir); err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}

			fmt.Println("Initialized empty strata repository in", dir)
			return nil
		},
	}

	var doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check and fix repository storage issues",
		Long: `Check internal storage and fix repository corruption, including:
  - changelog corruption at the end
  - dirstate pointing to an invalid commit
  - record log corruption (usually after a hard reboot)

Exits non-zero when the changelog cannot be fixed automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			verbose, _ := cmd.Flags().GetBool("verbose")

			r, err := openRepo()
			if err != nil {
				return err
			}
			lock, err := r.LockStore()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			u := ui.New(os.Stdout, os.Stderr)
			u.SetVerbose(verbose)
			tracer := tracing.NewFile(r.Dot.Join("trace.log"))
			defer tracer.Sync()

			d := repair.New(r, u, tracer, repair.Options{DryRun: dryRun})
			if cmdline := r.Config.ExternalDoctor.Command; cmdline != "" {
				d.ExternalDoctor = func() error {
					return runExternal(cmdline)
				}
			}
			return d.Run()
		},
	}

	var cloudCmd = &cobra.Command{
		Use:   "cloud",
		Short: "Inspect commit cloud synchronization state",
		Long:  `Show and observe the locally persisted record of what each workspace looked like at the last cloud sync.`,
	}

	var cloudStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the last-synced state of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")

			r, err := openRepo()
			if err != nil {
				return err
			}
			state, err := commitcloud.Load(r.Store, workspace, logger)
			if err != nil {
				return fmt.Errorf("loading sync state: %w", err)
			}

			bold := color.New(color.Bold).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			fmt.Printf("workspace: %s\n", bold(workspace))
			fmt.Printf("state file: %s\n", state.StateFilename())
			if state.Version() == 0 {
				fmt.Println(yellow("workspace has never synced"))
				return nil
			}

			fmt.Printf("version: %d\n", state.Version())
			if when := state.LastUpdateTime(); !when.IsZero() {
				fmt.Printf("last sync: %s\n", when.Format(time.RFC3339))
			}
			fmt.Printf("heads (%d):\n", len(state.Heads()))
			for _, h := range state.Heads() {
				fmt.Printf("  %s\n", h)
			}
			fmt.Printf("bookmarks (%d):\n", len(state.Bookmarks()))
			for name, h := range state.Bookmarks() {
				fmt.Printf("  %s -> %s\n", name, h)
			}
			fmt.Printf("remote bookmarks (%d):\n", len(state.RemoteBookmarks()))
			for name, h := range state.RemoteBookmarks() {
				fmt.Printf("  %s -> %s\n", name, h)
			}
			if n := len(state.OmittedHeads()); n > 0 {
				fmt.Printf("omitted heads: %d\n", n)
			}
			if n := len(state.OmittedBookmarks()); n > 0 {
				fmt.Printf("omitted bookmarks: %d\n", n)
			}
			if snaps := state.Snapshots(); len(snaps) > 0 {
				fmt.Printf("snapshots (%d):\n", len(snaps))
				for _, s := range snaps {
					fmt.Printf("  %s\n", s)
				}
			}
			if age := state.MaxAge(); age != nil {
				fmt.Printf("max age: %d\n", *age)
			}
			return nil
		},
	}

	var cloudWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Report rewrites of a workspace's sync state file",
		Long: `Watch the store for rewrites of the workspace's sync state file and
print a line for each one. A rewrite this process did not make means
another client is syncing the same workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, _ := cmd.Flags().GetString("workspace")

			r, err := openRepo()
			if err != nil {
				return err
			}
			w, err := commitcloud.Watch(r.Store, workspace, logger)
			if err != nil {
				return fmt.Errorf("starting watcher: %w", err)
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("watching %s (interrupt to stop)\n", commitcloud.Filename(workspace))
			for {
				select {
				case <-w.Updates:
					state, err := commitcloud.Load(r.Store, workspace, logger)
					if err != nil {
						fmt.Printf("%s rewritten but unreadable: %v\n", commitcloud.Filename(workspace), err)
						continue
					}
					fmt.Printf("%s  version %d: %d heads, %d bookmarks\n",
						time.Now().Format(time.TimeOnly),
						state.Version(), len(state.Heads()), len(state.Bookmarks()))
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the strata version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("strata version", version)
		},
	}

	// Add flags
	doctorCmd.Flags().BoolP("dry-run", "n", false, "report what would be fixed without changing anything")
	doctorCmd.Flags().BoolP("verbose", "v", false, "print raw repair messages")

	cloudStatusCmd.Flags().StringP("workspace", "w", "default", "workspace name")
	cloudWatchCmd.Flags().StringP("workspace", "w", "default", "workspace name")

	// Add commands to root
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(cloudCmd)
	rootCmd.AddCommand(versionCmd)

	// Add cloud subcommands
	cloudCmd.AddCommand(cloudStatusCmd)
	cloudCmd.AddCommand(cloudWatchCmd)
}

func openRepo() (*repo.Repo, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}

	root, err := repo.Find(cwd)
	if err != nil {
		return nil, err
	}

	r, err := repo.Open(root)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return r, nil
}

// runExternal hands a configured doctor command line to the shell-less
// exec layer with our stdio attached.
func runExternal(cmdline string) error {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil
	}
	c := exec.Command(fields[0], fields[1:]...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
