package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd は CLI のルートコマンドを作成します。
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "university",
		Short: "University login service",
		Long: `university serves the login flow on two listeners:
a plain HTTP listener (web) and a TLS listener (web-tls / api).`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newGenCertCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}
