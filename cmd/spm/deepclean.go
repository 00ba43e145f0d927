package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sourcepm/internal/history"
	"sourcepm/internal/remover"
)

var deepcleanCmd = &cobra.Command{
	Use:   "deepclean",
	Short: "Remove installed packages that are no longer required by anything explicitly installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		orphans, err := theApp.rm.FindOrphans()
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("no orphaned packages")
			return nil
		}

		if !executeFlag {
			fmt.Println("would remove:")
			for _, name := range orphans {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("pass --execute to apply")
			return nil
		}

		for _, name := range orphans {
			err := theApp.rm.Remove(cmd.Context(), name, remover.Options{
				Backup: true, BackupDir: theApp.cfg.BackupsDir,
			})
			result := "success"
			if err != nil {
				result = "failure"
				fmt.Printf("failed to remove %s: %v\n", name, err)
			} else {
				fmt.Printf("removed %s\n", name)
			}
			theApp.hist.Append(history.Event{
				Actor: "cli", Action: history.ActionDeepclean, Package: name, Result: result,
			})
		}
		return nil
	},
}
