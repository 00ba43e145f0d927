package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <package> <source-dir>",
	Short: "Build a package from a checked-out source tree into a cached artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, sourceDir := args[0], args[1]

		if !executeFlag {
			fmt.Printf("would build %s from %s (pass --execute to apply)\n", name, sourceDir)
			return nil
		}

		p, err := theApp.newPipeline()
		if err != nil {
			return err
		}

		result, err := p.Build(cmd.Context(), name, sourceDir, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build %s failed: %v\n", name, err)
			exitWithCode(ExitGeneral)
			return nil
		}

		fmt.Printf("built %s -> %s (cache hit: %v)\n", name, result.ArtifactPath, result.CacheHit)
		return nil
	},
}
