package main

import "os"

// Exit codes (spec §6). main exits with ExitSuccess or ExitGeneral;
// ExitUsage and ExitInternal are declared but no code path exits with them.
const (
	ExitSuccess = 0
	ExitGeneral = 1
	ExitUsage   = 2
	ExitInternal = 3
)

func exitWithCode(code int) {
	os.Exit(code)
}
