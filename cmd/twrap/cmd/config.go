package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/twrap/internal/actions"
	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/pkg/auth"
	tlsutil "github.com/psantana5/twrap/pkg/tls"
)

var (
	configOutput string
	certFile     string
	certKeyFile  string
	certCN       string
	certHosts    []string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Loads the config file, applies TWRAP_* environment overrides and defaults,
validates the result and prints it.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random bearer token for status.token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var configCertCmd = &cobra.Command{
	Use:   "cert",
	Short: "Write a self-signed certificate for status.tls_cert and status.tls_key",
	Long: `Generates a self-signed certificate that can serve as both the server
certificate and, passed as status.client_ca and --ca, the trust root for
mutual TLS.

Example:
  twrap config cert --cert status.pem --key status-key.pem --host 10.0.0.5`,
	Args: cobra.NoArgs,
	RunE: runConfigCert,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configTokenCmd)
	configCmd.AddCommand(configCertCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "table", "output format: table, json or yaml")

	configCertCmd.Flags().StringVar(&certFile, "cert", "twrap.pem", "certificate output path")
	configCertCmd.Flags().StringVar(&certKeyFile, "key", "twrap-key.pem", "private key output path")
	configCertCmd.Flags().StringVar(&certCN, "cn", "twrap", "certificate common name")
	configCertCmd.Flags().StringSliceVar(&certHosts, "host", nil, "extra host names or IPs (repeatable)")
}

func runConfigCert(cmd *cobra.Command, args []string) error {
	if err := tlsutil.GenerateSelfSignedCert(certFile, certKeyFile, certCN, certHosts...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", certFile, certKeyFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(nil, err)
	}

	switch configOutput {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", configOutput)
	}

	rows := flatten("", cfg.AsMap())
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Key", "Value")
	for _, k := range keys {
		table.Append(k, rows[k])
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("\nAction types: %v\n", actions.Types())
	return nil
}

func flatten(prefix string, m map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = execctx.Stringify(v)
	}
	return out
}
