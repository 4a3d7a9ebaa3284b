package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/SteelMorgan/logship/internal/offset"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newPositionsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "positions <positions_file>",
		Short: "Show the files tracked by a positions store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := offset.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			}

			fmt.Fprintf(out, "Created:  %s\nModified: %s\n", snapshot.CreatedAt, snapshot.ModifiedAt)
			if len(snapshot.Positions) == 0 {
				fmt.Fprintln(out, "No tracked files")
				return nil
			}
			fmt.Fprintln(out, renderPositions(snapshot))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the store as JSON")
	return cmd
}

func renderPositions(snapshot *offset.Snapshot) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"File", "File ID", "Bytes read"})
	for _, p := range snapshot.Positions {
		tw.AppendRow(table.Row{p.Path, p.FileID.String(), strconv.FormatUint(p.BytesRead, 10)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
