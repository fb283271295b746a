package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/vaultsync/internal/client/cpclient"
	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		newStatusCmd(),
		newSyncCmd(),
		newReconcileCmd(),
		newFilesCmd(),
		newConflictsCmd(),
		newResolveCmd(),
		newLogsCmd(),
	)
}

// newControlPlaneClient connects to the daemon configured for cmd.
func newControlPlaneClient(cmd *cobra.Command) (*cpclient.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return cpclient.New(cfg.HTTP.Addr, cfg.HTTP.Token)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon and vault status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			st, err := cp.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *handlers.StatusResponse) {
	row(w, "daemon", fmt.Sprintf("%s %s", green.Render(st.Status), gray.Render(st.Version)))
	if st.Vault != nil {
		vaultStatus := st.Vault.Status
		if st.Vault.Error != "" {
			vaultStatus = red.Render(vaultStatus + ": " + st.Vault.Error)
		}
		row(w, "vault", vaultStatus)
	}
	if st.Sync == nil {
		if !st.HasVault {
			fmt.Fprintln(w, yellow.Render("no vault id configured, run `vaultsync config set --vault-id <id>`"))
		}
		return
	}

	s := st.Sync
	row(w, "vault id", cyan.Render(s.VaultID))
	row(w, "running", s.Running)
	if s.Authenticated {
		row(w, "remote", green.Render("authenticated"))
	} else {
		row(w, "remote", red.Render("unauthenticated "+s.AuthError))
	}
	row(w, "sync interval", time.Duration(s.SyncInterval)*time.Second)
	row(w, "conflict mode", s.ConflictMode)
	row(w, "last full sync", humanTime(s.LastFullSync))
	row(w, "last remote check", humanTime(s.LastRemoteCheck))
	row(w, "tracked", fmt.Sprintf("%d files, %d folders", s.TrackedFiles, s.TrackedFolders))
	row(w, "synced", s.SyncedFiles)
	row(w, "never synced", s.NeverSynced)
	row(w, "pending changes", s.PendingChanges)
	row(w, "errors", countStyle(s.ErroredFiles, red))
	row(w, "conflicts", countStyle(s.PendingConflicts, yellow))
}

func newSyncCmd() *cobra.Command {
	var remoteOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full sync now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if remoteOnly {
				res, err := cp.CheckRemote(cmd.Context())
				if err != nil {
					return err
				}
				row(w, "checked", res.Checked)
				row(w, "downloaded", res.Downloaded)
				row(w, "conflicts", countStyle(res.Conflicts, yellow))
				row(w, "skipped", res.Skipped)
				return printErrors(w, res.Errors)
			}

			res, err := cp.Sync(cmd.Context())
			if err != nil {
				return err
			}
			if res.Success {
				fmt.Fprintln(w, green.Render("sync complete"))
			} else {
				fmt.Fprintln(w, red.Render("sync finished with errors"))
			}
			row(w, "uploaded", res.UploadedFiles)
			row(w, "downloaded", res.DownloadedFiles)
			row(w, "conflicts", countStyle(res.Conflicts, yellow))
			row(w, "skipped", res.SkippedFiles)
			row(w, "took", (time.Duration(res.DurationMs) * time.Millisecond).String())
			return printErrors(w, res.Errors)
		},
	}
	cmd.Flags().BoolVar(&remoteOnly, "remote-only", false, "Only pull remote changes")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the index with the vault and the remote and repair drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			res, err := cp.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			row(w, "uploaded", res.Uploaded)
			row(w, "folders added", res.FoldersAdded)
			row(w, "folders removed", res.FoldersRemoved)
			row(w, "stale removed", res.StaleRemoved)
			row(w, "failed", countStyle(res.Failed, red))
			if res.Failed > 0 {
				return fmt.Errorf("%d files failed to reconcile", res.Failed)
			}
			return nil
		},
	}
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files [prefix]",
		Short: "List tracked files and their sync state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			res, err := cp.Files(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, f := range res.Files {
				line := fmt.Sprintf("%s %s %s", stateStyle(f.State), f.Path, gray.Render(humanize.IBytes(uint64(max(f.Size, 0)))))
				if f.Error != "" {
					line += " " + red.Render(f.Error)
				}
				fmt.Fprintln(w, line)
			}
			fmt.Fprintln(w, gray.Render(fmt.Sprintf("%d synced, %d pending, %d errors, %d conflicts",
				res.Summary.Synced, res.Summary.Pending, res.Summary.Error, res.Summary.Conflict)))
			return nil
		},
	}
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			res, err := cp.Conflicts(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(res.Conflicts) == 0 {
				fmt.Fprintln(w, green.Render("no conflicts"))
				return nil
			}
			for _, c := range res.Conflicts {
				fmt.Fprintf(w, "%s %s %s\n", cyan.Render(c.ID), bold.Render(c.Path), gray.Render(humanize.Time(c.DetectedAt)))
				fmt.Fprintf(w, "  local  %s, %s\n", humanize.IBytes(uint64(max(c.Local.Size, 0))), humanize.Time(c.Local.LastModified))
				fmt.Fprintf(w, "  remote %s, %s\n", humanize.IBytes(uint64(max(c.Remote.Size, 0))), humanize.Time(c.Remote.LastModified))
			}
			return nil
		},
	}
	cmd.AddCommand(newConflictShowCmd())
	return cmd
}

func newConflictShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print both versions of a conflict and a merged draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			c, err := cp.Conflict(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			row(w, "path", bold.Render(c.Path))
			row(w, "detected", humanize.Time(c.DetectedAt))
			if c.Merged == nil {
				fmt.Fprintln(w, yellow.Render("binary content, resolve with --use local or --use remote"))
				return nil
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, *c.Merged)
			return nil
		},
	}
}

func newResolveCmd() *cobra.Command {
	var use string
	var contentFile string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a conflict",
		Example: `  vaultsync resolve 3f2a... --use local
  vaultsync resolve 3f2a... --use manual --file merged.md
  cat merged.md | vaultsync resolve 3f2a... --use manual --file -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content *string
			if contentFile != "" {
				data, err := readContent(cmd.InOrStdin(), contentFile)
				if err != nil {
					return err
				}
				s := string(data)
				content = &s
			}

			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			res, err := cp.Resolve(cmd.Context(), args[0], use, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s using %s\n", green.Render("resolved"), res.ID, res.Resolution)
			return nil
		},
	}
	cmd.Flags().StringVarP(&use, "use", "u", "", "Which version to keep: local, remote or manual")
	cmd.Flags().StringVarP(&contentFile, "file", "f", "", "File holding the merged content for --use manual, - for stdin")
	_ = cmd.MarkFlagRequired("use")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newControlPlaneClient(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			ctx := cmd.Context()

			var token int64
			for {
				page, err := cp.Logs(ctx, token, 1000)
				if err != nil {
					return err
				}
				for _, l := range page.Logs {
					fmt.Fprintf(w, "%s %s %s\n", gray.Render(l.Timestamp), levelStyle(l.Level), l.Message)
				}
				token = page.NextToken
				if page.HasMore {
					continue
				}
				if !follow {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	return cmd
}

func readContent(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func printErrors(w io.Writer, errs []string) error {
	for _, e := range errs {
		fmt.Fprintln(w, red.Render("  "+e))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d errors", len(errs))
	}
	return nil
}

func humanTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func countStyle(n int, style lipgloss.Style) string {
	if n == 0 {
		return "0"
	}
	return style.Render(fmt.Sprint(n))
}

func stateStyle(s handlers.FileState) string {
	label := fmt.Sprintf("%-8s", s)
	switch s {
	case handlers.FileStateSynced:
		return green.Render(label)
	case handlers.FileStateError:
		return red.Render(label)
	case handlers.FileStateConflict:
		return yellow.Render(label)
	default:
		return gray.Render(label)
	}
}

func levelStyle(l handlers.LogLevel) string {
	label := strings.ToUpper(string(l))
	switch l {
	case handlers.LogLevelError:
		return red.Render(label)
	case handlers.LogLevelWarn:
		return yellow.Render(label)
	case handlers.LogLevelDebug:
		return gray.Render(label)
	default:
		return cyan.Render(label)
	}
}
