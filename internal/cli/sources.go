package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newImportCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import cards from every configured source",
		Long: `Scan every source for markdown entries. "Q:"/"A:" pairs become flashcards,
"T:" lines todos and "N:" lines notes. Entries already imported are left
alone and cards whose entry disappeared are archived.`,
		Args: cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			reports, err := rt.importer.RunAll(cmd.Context())
			out := cmd.OutOrStdout()
			if len(reports) == 0 && err == nil {
				fmt.Fprintln(out, "No sources configured. Add one with: topnote source add <path/or/url.git>")
				return nil
			}
			for _, r := range reports {
				fmt.Fprintf(out, "%s: %d parsed, %d new, %d archived\n", r.Path, r.Parsed, r.Inserted, r.Archived)
				for _, e := range r.Errors {
					fmt.Fprintf(out, "  - %v\n", e)
				}
			}
			return err
		}),
	}
}

func newSourceCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage card sources",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <path/or/url.git>",
			Short: "Register a local directory or git repository",
			Args:  cobra.ExactArgs(1),
			RunE: rt.run(func(cmd *cobra.Command, args []string) error {
				src, err := rt.importer.AddSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "source %d (%s) %s\n", src.ID, src.Type, src.Path)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List registered sources",
			Args:  cobra.NoArgs,
			RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
				sources, err := rt.db.GetAllSources(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range sources {
					scanned := "never"
					if s.LastScanned.Valid {
						scanned = s.LastScanned.Time.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%d\t%s\t%s\tlast scanned %s\n", s.ID, s.Type, s.Path, scanned)
				}
				return nil
			}),
		},
	)
	return cmd
}
