package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/scribe/internal/safety"
)

func newRecoverCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Inspect work saved by auto-save before a crash",
		Long: `Auto-save keeps the unsaved contents of every open buffer in a recovery
store. After a crash, "scribe edit" offers the newest record for each file;
these commands inspect and clean the store directly.`,
	}

	withStore := func(fn func(s *safety.RecoveryStore) error) error {
		if g.cfg.Safety.RecoveryDir == "" {
			return fmt.Errorf("no recovery directory configured")
		}
		s, err := safety.OpenRecoveryStore(g.cfg.Safety.RecoveryDir, g.log)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(s)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recovery records",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(s *safety.RecoveryStore) error {
					recs, err := s.List()
					if err != nil {
						return err
					}
					type record struct {
						Key   string    `yaml:"key"`
						Path  string    `yaml:"path,omitempty"`
						Name  string    `yaml:"name,omitempty"`
						Size  int       `yaml:"size"`
						Saved time.Time `yaml:"saved"`
					}
					out := make([]record, len(recs))
					for i, r := range recs {
						out[i] = record{r.Key(), r.Path, r.Name, len(r.Content), r.Timestamp}
					}
					if ok, err := g.out.structured(out); ok {
						return err
					}
					if len(out) == 0 {
						g.out.printf("Nothing to recover\n")
					}
					for _, r := range out {
						g.out.printf("%s  %s  %s\n", r.Key, dimColor.Sprint(r.Saved.Format(time.DateTime)), humanBytes(int64(r.Size)))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <key>",
			Short: "Print the content of a recovery record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(s *safety.RecoveryStore) error {
					rec, ok, err := s.Latest(args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no recovery record for %s", args[0])
					}
					_, err = cmd.OutOrStdout().Write(rec.Content)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "write <key> <dest>",
			Short: "Write the content of a recovery record to a file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(s *safety.RecoveryStore) error {
					rec, ok, err := s.Latest(args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no recovery record for %s", args[0])
					}
					if _, err := os.Stat(args[1]); err == nil {
						ok, err := confirmDestructive(false, fmt.Sprintf("Overwrite %s?", args[1]))
						if err != nil || !ok {
							return err
						}
					}
					if _, err := safety.WriteAtomic(args[1], rec.Content); err != nil {
						return err
					}
					g.out.printf("Wrote %s\n", args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "discard <key>",
			Short: "Delete a recovery record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(s *safety.RecoveryStore) error {
					return s.Delete(args[0])
				})
			},
		},
	)
	return cmd
}
