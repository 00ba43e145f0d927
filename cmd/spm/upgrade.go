package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sourcepm/internal/history"
	"sourcepm/internal/installer"
	"sourcepm/internal/report"
	"sourcepm/internal/upgrade"
)

var upgradeSourceDirFlag string

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [package...]",
	Short: "Upgrade installed packages to newer recipe versions",
	Long: `Upgrade compares every installed package's version against its current
recipe; a strictly newer version (or --force) flags it as a candidate.
Candidates are leveled by dependency order and built/installed with a
bounded worker pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := theApp.newPipeline()
		if err != nil {
			return err
		}
		orch := upgrade.New(theApp.db, theApp.index, p, theApp.inst, theApp.hooksD)

		candidates, err := orch.DiscoverCandidates(args, forceFlag)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("no upgrade candidates")
			return nil
		}

		if !executeFlag {
			for _, c := range candidates {
				fmt.Printf("would upgrade %s: %s -> %s\n", c.Name, c.InstalledVersion, c.AvailableVersion)
			}
			fmt.Println("pass --execute to apply")
			return nil
		}

		rpt, err := orch.Upgrade(cmd.Context(), upgrade.Options{
			Targets:     args,
			Force:       forceFlag,
			Concurrency: concurrencyFlag,
			Source: func(c upgrade.Candidate) (string, []string) {
				return upgradeSourceDirFlag, nil
			},
			InstallOptions: installer.Options{Backup: true, BackupDir: theApp.cfg.BackupsDir},
		})
		if err != nil {
			return err
		}

		summary := report.Summary{Operation: "upgrade", ReportPath: ""}
		for name, res := range rpt.Results {
			summary.Outcomes = append(summary.Outcomes, report.PackageOutcome{Name: name, Status: res.Status, Detail: res.Error})
			theApp.hist.Append(history.Event{
				Actor: "cli", Action: history.ActionUpgrade, Package: name, Result: res.Status,
			})
		}
		theApp.printer.Print(summary)

		if summary.Counts()["failed"] > 0 {
			exitWithCode(ExitGeneral)
		}
		return nil
	},
}

func init() {
	upgradeCmd.Flags().StringVar(&upgradeSourceDirFlag, "source-dir", "", "checked-out source tree to build candidates from")
}
