// Command witnessctl is the operator CLI for a running witnessd node: it
// talks to the node's ops HTTP surface rather than embedding the protocol
// stack itself, mirroring the teacher's cmd/cli split between the daemon
// and its control-plane client.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	opsAddr string
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "witnessctl",
	Short: "Operator CLI for a running witnessd node",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opsAddr, "ops-addr", "http://127.0.0.1:9223", "witnessd ops HTTP address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
