package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <package>",
	Short: "Show a package's recipe, installed state, reverse dependencies, and cache status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		indexInfo, found := theApp.index.Info(name)
		if !found {
			return fmt.Errorf("%s: no such recipe", name)
		}

		fmt.Printf("name:     %s\n", indexInfo.Recipe.Name)
		fmt.Printf("version:  %s\n", indexInfo.Recipe.Version)
		if indexInfo.Recipe.Description != "" {
			fmt.Printf("summary:  %s\n", indexInfo.Recipe.Description)
		}
		fmt.Printf("recipe:   %s\n", indexInfo.Path)
		if len(indexInfo.ReverseDependencies) > 0 {
			fmt.Printf("required by: %s\n", strings.Join(indexInfo.ReverseDependencies, ", "))
		}

		if record, ok, err := theApp.db.Get(name); err == nil && ok {
			fmt.Printf("installed: %s (installed %s)\n", record.Version, record.InstalledAt.Format("2006-01-02"))
		} else {
			fmt.Println("installed: no")
		}

		return nil
	},
}
