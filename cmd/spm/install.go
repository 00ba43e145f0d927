package main

import (
	"fmt"
	"os"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/spf13/cobra"

	"sourcepm/internal/history"
	"sourcepm/internal/installer"
)

var (
	installBackupFlag bool
	installVerifyFlag bool
	installSigFlag    string
	installKeyFlag    string
)

var installCmd = &cobra.Command{
	Use:   "install <artifact-path>",
	Short: "Install a built artifact transactionally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifactPath := args[0]

		if !executeFlag {
			fmt.Printf("would install %s (pass --execute to apply)\n", artifactPath)
			return nil
		}

		opts := installer.Options{
			ArtifactPath:    artifactPath,
			Force:           forceFlag,
			Backup:          installBackupFlag,
			BackupDir:       theApp.cfg.BackupsDir,
			VerifySignature: installVerifyFlag,
			SignaturePath:   installSigFlag,
		}

		if installVerifyFlag {
			keyPath := installKeyFlag
			if keyPath == "" {
				return fmt.Errorf("--verify-signature requires --trusted-key <armored public key file>")
			}
			armored, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read trusted key %s: %w", keyPath, err)
			}
			key, err := crypto.NewKeyFromArmored(string(armored))
			if err != nil {
				return fmt.Errorf("parse trusted key %s: %w", keyPath, err)
			}
			opts.TrustedKey = key
		}

		record, err := theApp.inst.Install(cmd.Context(), opts)
		result := "success"
		if err != nil {
			result = "failure"
		}
		if record != nil {
			theApp.hist.Append(history.Event{
				Actor: "cli", Action: history.ActionInstall, Package: record.Name,
				Details: artifactPath, Result: result,
			})
		}
		if err != nil {
			return err
		}

		fmt.Printf("installed %s %s\n", record.Name, record.Version)
		return nil
	},
}

func init() {
	installCmd.Flags().BoolVar(&installBackupFlag, "backup", true, "back up existing destination files before overwrite")
	installCmd.Flags().BoolVar(&installVerifyFlag, "verify-signature", false, "verify a detached PGP signature before installing")
	installCmd.Flags().StringVar(&installSigFlag, "signature", "", "path to the detached signature file")
	installCmd.Flags().StringVar(&installKeyFlag, "trusted-key", "", "path to an armored PGP public key to verify the signature against")
}
