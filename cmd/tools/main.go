package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sessioncore/token-lifecycle-service/internal/tools/loadgen"
	"github.com/sessioncore/token-lifecycle-service/internal/tools/obscheck"
)

func main() {
	root := &cobra.Command{
		Use:           "tools",
		Short:         "Operational tooling for the token lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(loadgen.NewCommand(), obscheck.NewRootCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
