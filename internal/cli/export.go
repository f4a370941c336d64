package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ogulcanaydogan/costwatch/pkg/export"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export call records as CSV or JSON",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addFilterFlags(exportCmd)
	exportCmd.Flags().StringP("format", "f", "csv", "Output format (csv, json)")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}

func runExport(cmd *cobra.Command, _ []string) error {
	formatFlag, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	format, err := export.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	return withApp(cmd, func(a *app) error {
		filter, err := filterFromFlags(cmd, a.store.Now())
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}

		n, err := export.Write(w, format, a.store.Query(cmd.Context(), filter))
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if output != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", n, output)
		}
		return nil
	})
}
