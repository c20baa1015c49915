// Package main provides the entry point for the amanrag CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/amanrag/cmd/amanrag/cmd"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !cmd.IsReported(err) {
			fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
		}
		os.Exit(1)
	}
}
