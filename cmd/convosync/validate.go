package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoflow/convosync/internal/record"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check records against the insights schema without syncing",
	Long: `Load every JSON export from the data directory and report which
records fail the insights schema. No remote calls are made and the state
file is not touched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	validator, err := record.NewValidator()
	if err != nil {
		return fmt.Errorf("load insights schema: %w", err)
	}
	records, err := record.LoadDir(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	invalid := 0
	for _, rec := range records {
		issues := validator.Validate(rec)
		if len(issues) == 0 {
			continue
		}
		invalid++
		name := rec.Key()
		if name == "" {
			name = rec.SourceFile()
		}
		fmt.Fprintf(os.Stdout, "%s:\n", name)
		for _, issue := range issues {
			fmt.Fprintf(os.Stdout, "  %s\n", issue)
		}
	}
	fmt.Fprintf(os.Stdout, "%d record%s checked, %d invalid.\n", len(records), plural(len(records)), invalid)
	if invalid > 0 {
		return errRecordsFailed
	}
	return nil
}
