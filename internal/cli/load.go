package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/roach88/vegaplus/internal/executor"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Connection string
	Table      string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Load CSV, JSON or YAML data files into a database",
		Long: `Infer a table schema from each data file, create the table if it does
not exist and insert the rows. Tables are named after their files unless
--table is given.

Example:
  vegaplus load --config vegaplus.yaml --connection warehouse flights.csv
  vegaplus load --table cars data/cars.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection to load into (default: default_connection)")
	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (only with a single file)")

	return cmd
}

func runLoad(opts *LoadOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Table != "" && len(files) > 1 {
		return formatter.Fail(ExitCommandError, ErrCodeDataset, errors.New("--table needs exactly one file"))
	}
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	ctx := cmd.Context()
	reg := executor.NewRegistry()
	defer reg.Close()

	exec, err := openConnection(ctx, cfg, reg, opts.Connection, log)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnection, err)
	}

	var results []loaded
	for _, file := range files {
		l, err := loadDataset(ctx, exec, file, opts.Table)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeDataset, err)
		}
		formatter.VerboseLog("loaded %s into %q", file, l.Table)
		results = append(results, l)
	}

	if formatter.Format == "json" {
		return formatter.Success(results)
	}

	table := tablewriter.NewWriter(formatter.Writer)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"file", "table", "rows", "columns"})
	for _, l := range results {
		table.Append([]string{l.File, l.Table, strconv.Itoa(l.Rows), fmt.Sprint(l.Columns)})
	}
	table.Render()
	return nil
}
