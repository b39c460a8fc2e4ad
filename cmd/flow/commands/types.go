package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// typeView is the JSON form of a registered node type.
type typeView struct {
	Type          string `json:"type"`
	Kind          string `json:"kind"`
	Category      string `json:"category"`
	SchemaVersion int    `json:"schema_version"`
	CanMigrate    bool   `json:"can_migrate"`
	Description   string `json:"description,omitempty"`
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				infos := a.catalog.Types()
				views := make([]typeView, 0, len(infos))
				for _, t := range infos {
					views = append(views, typeView{
						Type:          t.Type,
						Kind:          string(t.Kind),
						Category:      t.Category,
						SchemaVersion: t.SchemaVersion,
						CanMigrate:    t.CanMigrate(),
						Description:   t.Description,
					})
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), views)
				}

				tw := newTable(cmd, table.Row{"Type", "Kind", "Category", "Schema", "Migrate", "Description"})
				for _, v := range views {
					tw.AppendRow(table.Row{v.Type, v.Kind, v.Category, v.SchemaVersion, v.CanMigrate, truncate(v.Description, 50)})
				}
				tw.Render()
				return nil
			})
		},
	}
}
