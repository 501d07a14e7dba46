package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/university/internal/audit"
	"github.com/yourusername/university/internal/certs"
	"github.com/yourusername/university/internal/config"
	"github.com/yourusername/university/internal/users"
)

// newHashPasswordCmd はシード YAML や users テーブル用の bcrypt ハッシュを出力します。
func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for a password (reads stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return oops.Code("PASSWORD_READ_FAILED").Wrap(err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return oops.Code("PASSWORD_EMPTY").Errorf("password must not be empty")
			}

			hash, err := users.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

// newGenCertCmd は自己署名証明書をファイルに書き出します。
func newGenCertCmd() *cobra.Command {
	var (
		hosts []string
		dir   string
	)
	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Write a self-signed certificate for the TLS listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pair, err := certs.GenerateSelfSigned(hosts)
			if err != nil {
				return err
			}
			certPath, keyPath, err := pair.Save(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TLS_CERT_FILE=%s\nTLS_KEY_FILE=%s\n", certPath, keyPath)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "SAN hosts")
	cmd.Flags().StringVar(&dir, "dir", "certs", "output directory")
	return cmd
}

// newAuditCmd は監査ログを参照するコマンドです。
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect recorded login events",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent login events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return oops.Code("AUDIT_DISABLED").Errorf("REDIS_URL is required to read audit events")
			}
			rdb, err := openRedis(cmd.Context(), cfg.RedisURL)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			events, err := audit.NewStore(rdb, cfg.AuditTTL()).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintf(out, "%s\t%-16s\t%s\t%s\t%s\n", ev.At.Format(time.RFC3339), ev.Kind, ev.Username, ev.ClientIP, ev.Reason)
			}
			return nil
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	cmd.AddCommand(recent)
	return cmd
}
