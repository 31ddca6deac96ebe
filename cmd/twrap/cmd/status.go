package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/twrap/internal/status"
)

var (
	statusAddr  string
	statusToken string
	statusCA    string
	statusCert  string
	statusKey   string
)

var statusCmd = &cobra.Command{
	Use:   "status [healthz|status|failures]",
	Short: "Query the status endpoint of a running wrapper",
	Long: `Reads one endpoint of a wrapper started with status.listen set and prints
the JSON document. Defaults come from the status.* configuration keys.

Example:
  twrap status --addr 10.0.0.5:9102 --ca ca.pem failures`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"healthz", "status", "failures"},
	RunE:      runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status server address (default from status.listen)")
	statusCmd.Flags().StringVar(&statusToken, "token", "", "bearer token (default from status.token)")
	statusCmd.Flags().StringVar(&statusCA, "ca", "", "CA certificate; enables HTTPS")
	statusCmd.Flags().StringVar(&statusCert, "cert", "", "client certificate for mTLS")
	statusCmd.Flags().StringVar(&statusKey, "key", "", "client key for mTLS")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return fail(nil, configErr)
	}
	path := "status"
	if len(args) == 1 {
		path = args[0]
	}
	addr := statusAddr
	if addr == "" {
		addr = viper.GetString("status.listen")
	}
	token := statusToken
	if token == "" {
		token = viper.GetString("status.token")
	}

	client, err := status.NewClient(addr, status.ClientOptions{
		Token:    token,
		CAFile:   statusCA,
		CertFile: statusCert,
		KeyFile:  statusKey,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	body, err := client.Get(ctx, path)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}
