package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/scribe/internal/timemachine"
)

// historyCmd carries the flags shared by the history subcommands.
type historyCmd struct {
	g       *globals
	project string
}

// open returns the time machine and the resolved project root.
func (h *historyCmd) open() (*timemachine.Manager, string, error) {
	tm, err := h.g.timeMachine()
	if err != nil {
		return nil, "", err
	}
	project, err := projectOf(h.project)
	if err != nil {
		return nil, "", err
	}
	return tm, project, nil
}

func newHistoryCmd(g *globals) *cobra.Command {
	h := &historyCmd{g: g}
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"tm"},
		Short:   "Browse and manage the saved history of a project",
		Long: `Every save is committed to a hidden git repository kept outside the
project. These commands list, compare and restore those versions and
maintain the history store.`,
	}
	cmd.PersistentFlags().StringVarP(&h.project, "project", "p", ".", "a file or directory inside the project")

	cmd.AddCommand(
		h.listCmd(),
		h.showCmd(),
		h.diffCmd(),
		h.restoreCmd(),
		h.annotateCmd(),
		h.cleanupCmd(),
		h.statsCmd(),
		h.verifyCmd(),
		h.exportCmd(),
		h.importCmd(),
		h.backupCmd(),
		h.projectsCmd(),
	)
	return cmd
}

func (h *historyCmd) listCmd() *cobra.Command {
	var (
		limit  int
		search string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var commits []timemachine.Commit
			switch {
			case search != "":
				commits, err = tm.SearchCommits(ctx, project, search)
			case file != "":
				commits, err = tm.CommitsTouching(ctx, project, file)
			default:
				var page timemachine.Page
				page, err = tm.ListCommits(ctx, project, 0, limit)
				commits = page.Commits
			}
			if err != nil {
				return err
			}
			if limit > 0 && len(commits) > limit {
				commits = commits[:limit]
			}
			return h.g.out.commits(commits)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits")
	cmd.Flags().StringVar(&search, "search", "", "only commits whose message contains this text")
	cmd.Flags().StringVar(&file, "file", "", "only commits touching paths containing this text")
	return cmd
}

func (h *historyCmd) showCmd() *cobra.Command {
	var stat bool
	cmd := &cobra.Command{
		Use:   "show <commit>",
		Short: "Show a commit and its changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			c, err := tm.CommitDetails(ctx, project, args[0])
			if err != nil {
				return err
			}
			files, err := tm.FilesChanged(ctx, project, c.Hash)
			if err != nil {
				return err
			}

			type record struct {
				Commit commitRecord      `yaml:"commit"`
				Files  map[string]string `yaml:"files"`
			}
			rec := record{Commit: toCommitRecords([]timemachine.Commit{c})[0], Files: map[string]string{}}
			for _, f := range files {
				rec.Files[f.Path] = f.Status.String()
			}
			if ok, err := h.g.out.structured(rec); ok {
				return err
			}

			out := h.g.out
			out.printf("%s %s\n", headerColor.Sprint("commit"), hashColor.Sprint(c.Hash))
			out.printf("Author: %s <%s>\n", c.AuthorName, c.AuthorEmail)
			out.printf("Date:   %s\n", c.Timestamp.Format(time.RFC1123))
			if c.Annotation != "" {
				out.printf("Note:   %s\n", c.Annotation)
			}
			out.printf("\n    %s\n\n", strings.ReplaceAll(strings.TrimSpace(c.Message), "\n", "\n    "))
			for _, f := range files {
				out.printf("%s %s\n", f.Status.Letter(), f.Path)
			}
			if stat {
				return nil
			}

			d, err := tm.Diff(ctx, project, "", c.Hash)
			if err != nil {
				return err
			}
			for i := range d.Files {
				out.printf("\n")
				out.fileDiff(&d.Files[i])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "list changed files without the diff")
	return cmd
}

func (h *historyCmd) diffCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Compare two commits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if file != "" {
				fd, err := tm.FileDiff(ctx, project, file, args[0], args[1])
				if err != nil {
					return err
				}
				h.g.out.fileDiff(fd)
				return nil
			}
			d, err := tm.Diff(ctx, project, args[0], args[1])
			if err != nil {
				return err
			}
			if d.Empty() {
				h.g.out.printf("No differences\n")
			}
			for i := range d.Files {
				h.g.out.fileDiff(&d.Files[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "limit the diff to one file")
	return cmd
}

func (h *historyCmd) restoreCmd() *cobra.Command {
	var (
		yes     bool
		preview bool
	)
	cmd := &cobra.Command{
		Use:   "restore <commit> [file]",
		Short: "Restore a file, or the whole project, to a saved version",
		Long: `Restore writes the version of file saved in commit back to disk. Without
a file every tracked file of the project is restored. The current
version stays in the history and can itself be restored later.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			commit := args[0]

			if len(args) == 1 {
				if preview {
					return fmt.Errorf("--preview needs a file")
				}
				ok, err := confirmDestructive(yes, fmt.Sprintf("Restore every file of %s to %s?", project, shortHash(commit)))
				if err != nil || !ok {
					return err
				}
				files, err := tm.RestoreProject(ctx, project, commit, timemachine.RestoreOptions{Confirmed: true})
				if err != nil {
					return err
				}
				h.g.out.printf("Restored %d files from %s\n", len(files), shortHash(commit))
				return nil
			}

			file, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			p, err := tm.PreviewRestore(ctx, project, commit, file)
			if err != nil {
				return err
			}
			if p.Unchanged {
				h.g.out.printf("%s already matches %s\n", args[1], shortHash(commit))
				return nil
			}
			if preview {
				if p.Diff != nil {
					h.g.out.fileDiff(p.Diff)
				}
				return nil
			}
			ok, err := confirmDestructive(yes, fmt.Sprintf("Overwrite %s with its version from %s?", args[1], shortHash(commit)))
			if err != nil || !ok {
				return err
			}
			if _, err := tm.RestoreFile(ctx, project, commit, file, timemachine.RestoreOptions{Confirmed: true}); err != nil {
				return err
			}
			h.g.out.printf("Restored %s from %s\n", args[1], shortHash(commit))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&preview, "preview", false, "show what would change without writing")
	return cmd
}

func (h *historyCmd) annotateCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "annotate <commit> [note]",
		Short: "Attach a note to a commit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			if remove {
				return tm.RemoveAnnotation(cmd.Context(), project, args[0])
			}
			if len(args) < 2 {
				note, ok, err := tm.Annotation(cmd.Context(), project, args[0])
				if err != nil {
					return err
				}
				if ok {
					h.g.out.printf("%s\n", note)
				}
				return nil
			}
			return tm.Annotate(cmd.Context(), project, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the note")
	return cmd
}

func (h *historyCmd) cleanupCmd() *cobra.Command {
	var (
		yes bool
		gc  bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop commits outside the retention policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if gc {
				return tm.RunGC(ctx, project, h.g.cfg.History.GC.Aggressive)
			}
			ok, err := confirmDestructive(yes, fmt.Sprintf("Apply retention policy %s to %s?", tm.Retention(), project))
			if err != nil || !ok {
				return err
			}
			stats, err := tm.Cleanup(ctx, project)
			if err != nil {
				return err
			}
			type record struct {
				Removed    int    `yaml:"removed"`
				Kept       int    `yaml:"kept"`
				SizeBefore int64  `yaml:"size_before"`
				SizeAfter  int64  `yaml:"size_after"`
				Backup     string `yaml:"backup,omitempty"`
			}
			rec := record{stats.Removed(), stats.CommitsAfter, stats.SizeBefore, stats.SizeAfter, stats.Backup}
			if ok, err := h.g.out.structured(rec); ok {
				return err
			}
			h.g.out.printf("Removed %d of %d commits, %s freed\n",
				rec.Removed, stats.CommitsBefore, humanBytes(stats.SizeBefore-stats.SizeAfter))
			if rec.Backup != "" {
				h.g.out.printf("Backup: %s\n", rec.Backup)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&gc, "gc", false, "only run git garbage collection")
	return cmd
}

func (h *historyCmd) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			stats, err := tm.Stats(cmd.Context(), project)
			if err != nil {
				return err
			}
			return h.g.out.stats(stats)
		},
	}
}

func (h *historyCmd) verifyCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the history store for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			check := tm.Verify
			if repair {
				check = tm.Repair
			}
			report, err := check(cmd.Context(), project)
			if err != nil {
				return err
			}
			type record struct {
				Valid    bool     `yaml:"valid"`
				Errors   []string `yaml:"errors,omitempty"`
				Warnings []string `yaml:"warnings,omitempty"`
			}
			if ok, err := h.g.out.structured(record{report.Valid, report.Errors, report.Warnings}); ok {
				return err
			}
			for _, w := range report.Warnings {
				warnColor.Fprintf(h.g.out.w, "warning: %s\n", w)
			}
			for _, e := range report.Errors {
				errorColor.Fprintf(h.g.out.w, "error: %s\n", e)
			}
			if !report.Valid {
				return fmt.Errorf("history of %s is damaged (run with --repair)", project)
			}
			addColor.Fprintln(h.g.out.w, "History is intact")
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "repair the store, reinitialising it if needed")
	return cmd
}

func (h *historyCmd) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <dest>",
		Short: "Export the history as an ordinary git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			if err := tm.Export(cmd.Context(), project, args[0]); err != nil {
				return err
			}
			h.g.out.printf("Exported history of %s to %s\n", project, args[0])
			return nil
		},
	}
}

func (h *historyCmd) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <src>",
		Short: "Append the commits of a git repository to the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			n, err := tm.Import(cmd.Context(), project, args[0])
			if err != nil {
				return err
			}
			h.g.out.printf("Imported %d commits\n", n)
			return nil
		},
	}
}

func (h *historyCmd) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backups of the history store",
	}

	var yes bool
	restore := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the history with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, project, err := h.open()
			if err != nil {
				return err
			}
			ok, err := confirmDestructive(yes, fmt.Sprintf("Replace the history of %s with backup %s?", project, args[0]))
			if err != nil || !ok {
				return err
			}
			return tm.RestoreBackup(cmd.Context(), project, args[0])
		},
	}
	restore.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Back up the history store",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				tm, project, err := h.open()
				if err != nil {
					return err
				}
				name, err := tm.CreateBackup(cmd.Context(), project)
				if err != nil {
					return err
				}
				h.g.out.printf("Created backup %s\n", name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List backups",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				tm, project, err := h.open()
				if err != nil {
					return err
				}
				backups, err := tm.ListBackups(project)
				if err != nil {
					return err
				}
				type record struct {
					Name    string    `yaml:"name"`
					Created time.Time `yaml:"created"`
				}
				recs := make([]record, len(backups))
				for i, b := range backups {
					recs[i] = record{b.Name, b.Created}
				}
				if ok, err := h.g.out.structured(recs); ok {
					return err
				}
				for _, r := range recs {
					h.g.out.printf("%s  %s\n", r.Name, dimColor.Sprint(r.Created.Format(time.DateTime)))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a backup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tm, project, err := h.open()
				if err != nil {
					return err
				}
				return tm.DeleteBackup(project, args[0])
			},
		},
		restore,
	)
	return cmd
}

func (h *historyCmd) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects with a history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := h.g.timeMachine()
			if err != nil {
				return err
			}
			projects, err := tm.ListProjects()
			if err != nil {
				return err
			}
			type record struct {
				Path    string    `yaml:"path"`
				Hash    string    `yaml:"hash"`
				Created time.Time `yaml:"created"`
			}
			recs := make([]record, len(projects))
			for i, p := range projects {
				recs[i] = record{p.Path, p.Hash, p.Created}
			}
			if ok, err := h.g.out.structured(recs); ok {
				return err
			}
			for _, r := range recs {
				h.g.out.printf("%s %s\n", r.Path, dimColor.Sprint(r.Hash))
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <old-path> <new-path>",
		Short: "Move a project's history after the project directory was moved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := h.g.timeMachine()
			if err != nil {
				return err
			}
			from, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			to, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			if err := tm.HandleProjectRename(cmd.Context(), from, to); err != nil {
				return err
			}
			h.g.out.printf("History of %s now follows %s\n", from, to)
			return nil
		},
	})
	return cmd
}
