package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// SchemaLoadResult is the output of schema load.
type SchemaLoadResult struct {
	Dir    string `json:"dir"`
	Loaded int    `json:"loaded"`
}

func (r SchemaLoadResult) String() string {
	return fmt.Sprintf("Loaded %d schema(s) from %s", r.Loaded, r.Dir)
}

// SchemaListResult is the output of schema list.
type SchemaListResult struct {
	Names []string `json:"names"`
}

func (r SchemaListResult) String() string {
	if len(r.Names) == 0 {
		return "No schemas stored."
	}
	return strings.Join(r.Names, "\n")
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage stored entity schemas",
	}

	cmd.AddCommand(newSchemaLoadCommand(rootOpts))
	cmd.AddCommand(newSchemaGetCommand(rootOpts))
	cmd.AddCommand(newSchemaListCommand(rootOpts))
	return cmd
}

func newSchemaLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load [dir]",
		Short: "Store every schema file in a directory",
		Long: `Store every schema file (.json, .yaml, .yml, .cue) in dir under its file
name, replacing schemas of the same name. Defaults to --schema-dir.

Examples:
  wapplibre schema load
  wapplibre schema load ./schemas --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.SchemaDir
			if len(args) == 1 {
				dir = args[0]
			}
			out := rootOpts.formatter(cmd)

			a, err := openApp(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stores", err)
			}
			defer a.Close()

			out.VerboseLog("Loading schemas from %s", dir)
			n, err := a.registry.LoadDir(cmd.Context(), dir)
			if err != nil {
				return out.Fail("load schemas", err)
			}
			return out.Success(SchemaLoadResult{Dir: dir, Loaded: n})
		},
	}
}

func newSchemaGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print the resolved form of a schema",
		Long: `Print the named schema with every referenced schema inlined under
"definitions".

Examples:
  wapplibre schema get person`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			a, err := openApp(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stores", err)
			}
			defer a.Close()

			resolved, err := a.service.GetEntitySchema(cmd.Context(), args[0])
			if err != nil {
				return out.Fail("get schema", err)
			}
			doc, err := resolved.MarshalJSON()
			if err != nil {
				return WrapExitError(ExitCommandError, "encode schema", err)
			}
			return out.Success(json.RawMessage(doc))
		},
	}
}

func newSchemaListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored schema names",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			a, err := openApp(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stores", err)
			}
			defer a.Close()

			names, err := a.store.ListSchemas(cmd.Context())
			if err != nil {
				return out.Fail("list schemas", err)
			}
			return out.Success(SchemaListResult{Names: names})
		},
	}
}
