package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cast/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Manage the instruction log schema",
	Long: `up applies pending migrations (serve does this on start), down rolls back
the latest one, status lists applied and pending versions.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

type migrationRow struct {
	Version   string `json:"version"`
	Name      string `json:"name,omitempty"`
	State     string `json:"state"`
	AppliedAt string `json:"applied_at,omitempty"`
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := "status"
	if len(args) == 1 {
		action = args[0]
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations applied")
		return nil
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return err
		}
		fmt.Fprintln(out, "latest migration rolled back")
		return nil
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}
	rows := make([]migrationRow, 0, len(applied)+len(pending))
	for _, a := range applied {
		rows = append(rows, migrationRow{Version: a.Version, State: "applied", AppliedAt: a.AppliedAt.Format(time.RFC3339)})
	}
	for _, p := range pending {
		rows = append(rows, migrationRow{Version: p.Version, Name: p.Name, State: "pending"})
	}

	if jsonOut {
		return json.NewEncoder(out).Encode(rows)
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%s  %-8s %s\n", r.Version, r.State, r.Name)
	}
	return nil
}
