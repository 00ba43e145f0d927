package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchFuzzyFlag bool

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the recipe index by name, summary, and keywords",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results := theApp.index.Search(args[0], searchFuzzyFlag)
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%-30s %.2f\n", r.Name, r.Score)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchFuzzyFlag, "fuzzy", false, "enable fuzzy (subsequence) matching")
}
