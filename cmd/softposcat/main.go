// softposcat drives one simulated contactless transaction end to end
// against a canned or scripted card transceiver and prints the resulting
// outcome.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/softpos-oss/l2engine/config"
	"github.com/softpos-oss/l2engine/entrypoint"
	"github.com/softpos-oss/l2engine/internal/obs"
	"github.com/softpos-oss/l2engine/kernel/dpas"
	"github.com/softpos-oss/l2engine/kernel/expresspay"
	"github.com/softpos-oss/l2engine/kernel/jcb"
	"github.com/softpos-oss/l2engine/kernel/mchip"
	"github.com/softpos-oss/l2engine/kernel/unionpay"
	"github.com/softpos-oss/l2engine/kernel/visa"
	"github.com/softpos-oss/l2engine/torntxn"
)

var (
	configPath string
	amount     int64
	scenario   string
	adminAddr  string
)

func main() {
	root := &cobra.Command{
		Use:   "softposcat",
		Short: "Drive a simulated EMV contactless transaction and print the outcome.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulated transaction against a canned card.",
		RunE:  runTransaction,
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a kernel config YAML file (optional; defaults apply if omitted)")
	runCmd.Flags().Int64Var(&amount, "amount", 1000, "authorized amount, minor currency units")
	runCmd.Flags().StringVar(&scenario, "scenario", "offline-approve", "canned card scenario: offline-approve, offline-decline, online-approve, online-decline")

	adminCmd := &cobra.Command{
		Use:   "admin-serve",
		Short: "Serve the CA store / revocation admin HTTP surface.",
		RunE:  serveAdmin,
	}
	adminCmd.Flags().StringVar(&adminAddr, "addr", ":8080", "listen address")

	root.AddCommand(runCmd, adminCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTransaction(cmd *cobra.Command, args []string) error {
	cfg := (&config.Kernel{}).Check()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	card, err := newCannedCard(scenario)
	if err != nil {
		return err
	}

	reg := entrypoint.NewRegistry(visa.Brand{}, mchip.Brand{}, expresspay.Brand{}, dpas.Brand{}, jcb.Brand{}, unionpay.Brand{})
	log := obs.NewLogger(cfg.Trace)
	metrics := obs.NewMetrics(nil)
	tornTable, err := torntxn.New(0)
	if err != nil {
		return err
	}

	txn, entry, err := entrypoint.Dispatch(cmd.Context(), card, reg, entrypoint.Dependencies{
		Config:     cfg,
		TornTable:  tornTable,
		Authorizer: cannedAuthorizer{approve: scenario != "online-decline"},
		Log:        log,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	result := txn.Run(context.Background(), emptyTerminalInput(amount))

	out := map[string]any{
		"aid":      fmt.Sprintf("%X", entry.AID),
		"label":    entry.Label,
		"outcome":  result.Outcome.Kind.String(),
		"reason":   result.Outcome.Reason,
		"trace_id": result.TraceID,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func serveAdmin(cmd *cobra.Command, args []string) error {
	s, err := buildAdminServer()
	if err != nil {
		return err
	}
	logrus.Infof("softposcat admin surface listening on %s", adminAddr)
	return http.ListenAndServe(adminAddr, s.Router())
}
