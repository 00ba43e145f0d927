package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyTailFlag    int
	historyPackageFlag string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded install/remove/upgrade events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyPackageFlag != "" {
			events, err := theApp.hist.ForPackage(historyPackageFlag)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%s  %-8s %-20s %s\n", e.Timestamp.Format("2006-01-02T15:04:05"), e.Action, e.Package, e.Result)
			}
			return nil
		}

		evs, err := theApp.hist.Tail(historyTailFlag)
		if err != nil {
			return err
		}
		for _, e := range evs {
			fmt.Printf("%s  %-8s %-20s %s\n", e.Timestamp.Format("2006-01-02T15:04:05"), e.Action, e.Package, e.Result)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyTailFlag, "tail", 20, "number of most recent events to show")
	historyCmd.Flags().StringVar(&historyPackageFlag, "package", "", "show only events for this package")
}
