package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lykmapipo/moron/internal/gen"
)

// GenOptions holds flags for the gen command.
type GenOptions struct {
	Output string
}

// NewGenCommand creates the gen command.
func NewGenCommand(_ *RootOptions) *cobra.Command {
	opts := &GenOptions{}

	cmd := &cobra.Command{
		Use:   "gen <file.go>",
		Short: "Generate model configuration from Go structs",
		Long: `Read the structs of a Go source file and print the models: section of a
moron configuration. Relation fields carry a rel tag:

  Pets   []Animal ` + "`rel:\"has_many,foreign_key:owner_id\"`" + `
  Movies []Movie  ` + "`rel:\"many_to_many,through:persons_movies,from:actor_id,to:movie_id\"`",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := gen.Parse(args[0])
			if err != nil {
				return err //nolint:wrapcheck // already prefixed
			}
			out, err := gen.Render(infos)
			if err != nil {
				return err //nolint:wrapcheck // pass through
			}

			if opts.Output == "" {
				_, err := cmd.OutOrStdout().Write(out)
				return err //nolint:wrapcheck // pass through
			}
			if err := os.WriteFile(opts.Output, out, 0o644); err != nil { //nolint:gosec // configuration is world-readable
				return fmt.Errorf("write %s: %w", opts.Output, err)
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "moron: wrote %s\n", opts.Output)
			return err //nolint:wrapcheck // pass through
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to file instead of stdout")

	return cmd
}
