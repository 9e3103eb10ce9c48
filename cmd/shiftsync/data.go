package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kmorita/shiftsync/internal/loadtest"
	"github.com/kmorita/shiftsync/internal/migrate"
	"github.com/kmorita/shiftsync/internal/ui"
)

var flagMigrateDir string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all collections to JSONL files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := migrate.Export(cmd.Context(), a.engine, migrate.Options{Dir: flagMigrateDir})
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d documents to %s\n",
			ui.RenderSuccess("✓"), result.Exported, flagMigrateDir)
		return nil
	},
}

var flagImportDryRun bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import collections from JSONL files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := migrate.Import(cmd.Context(), a.engine, migrate.Options{
			Dir:    flagMigrateDir,
			DryRun: flagImportDryRun,
		})
		if err != nil {
			return err
		}

		verb := "Imported"
		if flagImportDryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d documents (%d skipped)\n",
			ui.RenderSuccess("✓"), verb, result.Imported, result.Skipped)
		for _, e := range result.Errors {
			fmt.Printf("%s %s\n", ui.RenderWarn("!"), e)
		}
		return nil
	},
}

var flagResetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all data from every storage tier",
	Long: `Clear the fast cache, the durable local store and (when online) the
remote collections. This is the only operation that empties the remote
store; an ordinary save of an empty snapshot never does.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagResetForce && !confirm("Delete ALL data from every tier?") {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.ResetAll(cmd.Context()); err != nil {
			return fmt.Errorf("reset incomplete: %w", err)
		}
		fmt.Printf("%s All data cleared\n", ui.RenderSuccess("✓"))
		if a.engine.PendingChanges() {
			fmt.Printf("%s remote cleanup pending; run 'shiftsync sync' when online\n", ui.RenderWarn("!"))
		}
		return nil
	},
}

var benchOpts = loadtest.DefaultOptions()

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure save/load latency with synthetic data",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("%s Running %d rounds over %d subjects x %d days...\n",
			ui.RenderAccent("→"), benchOpts.Rounds, benchOpts.Subjects, benchOpts.Days)
		stats, err := loadtest.Run(cmd.Context(), a.engine, benchOpts)
		if err != nil {
			return err
		}
		fmt.Println(stats.String())
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&flagMigrateDir, "dir", "backup", "directory for JSONL files")
	importCmd.Flags().StringVar(&flagMigrateDir, "dir", "backup", "directory for JSONL files")
	importCmd.Flags().BoolVar(&flagImportDryRun, "dry-run", false, "preview without writing")
	resetCmd.Flags().BoolVar(&flagResetForce, "force", false, "skip confirmation")
	benchCmd.Flags().IntVar(&benchOpts.Subjects, "subjects", benchOpts.Subjects, "distinct subjects to generate")
	benchCmd.Flags().IntVar(&benchOpts.Days, "days", benchOpts.Days, "calendar days to cover")
	benchCmd.Flags().IntVar(&benchOpts.Rounds, "rounds", benchOpts.Rounds, "save/load rounds to measure")
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
