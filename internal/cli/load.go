package cli

import (
	"encoding/json"
	"fmt"
	"io"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/lykmapipo/moron/config"
	"github.com/lykmapipo/moron/internal/metrics"
	"github.com/lykmapipo/moron/orm"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	Config  string
	Where   string
	Args    []string
	Eager   string
	OrderBy string
	Limit   int
	Stats   bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{}

	cmd := &cobra.Command{
		Use:   "load <model>",
		Short: "Query a model and eagerly load its relation graph",
		Long: `Query the rows of a configured model and load the relations named by an
eager expression. Each --arg binds one placeholder of --where; integer
values are bound as integers.`,
		Example: `  moron load Person --where "parent_id IS NULL" --eager "[pets, children.^]"
  moron load Person --where "id = ?" --arg 1 --eager "movies" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "moron.yaml", "configuration file")
	cmd.Flags().StringVar(&opts.Where, "where", "", "SQL condition, with ? placeholders")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "placeholder value for --where (repeatable)")
	cmd.Flags().StringVarP(&opts.Eager, "eager", "e", "", "eager expression")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "ORDER BY clause")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 for no limit)")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print statement counts to stderr")

	return cmd
}

func runLoad(cmd *cobra.Command, rootOpts *RootOptions, opts *LoadOptions, modelName string) error {
	ctx := cmd.Context()

	var envFiles []string
	if rootOpts.EnvFile != "" {
		envFiles = append(envFiles, rootOpts.EnvFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err //nolint:wrapcheck // already prefixed
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err //nolint:wrapcheck // already prefixed
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}
	model, err := reg.Model(modelName)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}

	conn, err := orm.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}
	defer conn.Close() //nolint:errcheck // read only

	loggers := []orm.Logger{orm.NewZerologLogger(logger)}
	var gatherer prometheus.Gatherer
	if opts.Stats {
		promReg := prometheus.NewRegistry()
		loggers = append(loggers, metrics.NewWithRegistry(promReg))
		gatherer = promReg
	}
	db := conn.Debug(orm.MultiLogger(loggers...))

	q := model.Query(db).WithFetchOptions(cfg.FetchOptions())
	if opts.Where != "" {
		q = q.Where(opts.Where, bindArgs(opts.Args)...)
	}
	if opts.OrderBy != "" {
		q = q.OrderBy(opts.OrderBy)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Eager != "" {
		q = q.Eager(opts.Eager)
	}

	instances, err := q.Find(ctx)
	if err != nil {
		return err //nolint:wrapcheck // pass through
	}
	logger.Info().Str("model", model.Name()).Int("rows", len(instances)).Msg("loaded")

	if err := writeInstances(cmd.OutOrStdout(), rootOpts.Format, instances); err != nil {
		return err
	}

	if gatherer != nil {
		counts, err := metrics.Counts(gatherer)
		if err != nil {
			return fmt.Errorf("gather stats: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "statements: %s\n", metrics.Format(counts))
	}
	return nil
}

// bindArgs converts flag values to query arguments: integers stay integers
// and everything else is bound as a string.
func bindArgs(values []string) []any {
	args := make([]any, 0, len(values))
	for _, v := range values {
		if n, err := cast.ToInt64E(v); err == nil {
			args = append(args, n)
			continue
		}
		args = append(args, v)
	}
	return args
}

func writeInstances(w io.Writer, format string, instances []*orm.Instance) error {
	if instances == nil {
		instances = []*orm.Instance{}
	}
	if format == "json" {
		return writeJSON(w, instances)
	}
	for _, inst := range instances {
		line, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("encode %s: %w", inst.Model().Name(), err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err //nolint:wrapcheck // pass through
		}
	}
	return nil
}
