package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sourcepm/internal/history"
	"sourcepm/internal/remover"
)

var removeBackupFlag bool

var removeCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Remove an installed package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if !executeFlag {
			dependents, _ := theApp.rm.ReverseDependencies(name)
			if len(dependents) > 0 {
				fmt.Printf("would remove %s (required by %v, needs --force) (pass --execute to apply)\n", name, dependents)
			} else {
				fmt.Printf("would remove %s (pass --execute to apply)\n", name)
			}
			return nil
		}

		err := theApp.rm.Remove(cmd.Context(), name, remover.Options{
			Force:     forceFlag,
			Backup:    removeBackupFlag,
			BackupDir: theApp.cfg.BackupsDir,
		})
		result := "success"
		if err != nil {
			result = "failure"
		}
		theApp.hist.Append(history.Event{
			Actor: "cli", Action: history.ActionRemove, Package: name, Result: result,
		})
		if err != nil {
			return err
		}

		fmt.Printf("removed %s\n", name)
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeBackupFlag, "backup", true, "back up owned files before removal")
}
