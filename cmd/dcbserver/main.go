package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "dcbserver",
		Short:         "Consortial borrowing workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to yaml config file")
	root.PersistentFlags().String("db", "", "sqlite database path (overrides config)")

	root.AddCommand(serveCmd())
	root.AddCommand(auditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
