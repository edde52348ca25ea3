package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type peerView struct {
	Address          string `json:"address"`
	Inbound          bool   `json:"inbound"`
	FullyConnected   bool   `json:"fully_connected"`
	MisbehaviorScore int    `json:"misbehavior_score"`
	BytesIn          uint64 `json:"bytes_in"`
	BytesOut         uint64 `json:"bytes_out"`
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List the node's currently live peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(opsAddr + "/peers")
		if err != nil {
			return fmt.Errorf("witnessctl: query peers: %w", err)
		}
		defer resp.Body.Close()

		var views []peerView
		if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
			return fmt.Errorf("witnessctl: decode peers: %w", err)
		}
		for _, p := range views {
			fmt.Printf("%-44s inbound=%-5v full=%-5v score=%-4d in=%d out=%d\n",
				p.Address, p.Inbound, p.FullyConnected, p.MisbehaviorScore, p.BytesIn, p.BytesOut)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the node's liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(opsAddr + "/healthz")
		if err != nil {
			return fmt.Errorf("witnessctl: health check: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("witnessctl: node unhealthy: status %d", resp.StatusCode)
		}
		fmt.Println("ok")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the node's effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(opsAddr + "/config")
		if err != nil {
			return fmt.Errorf("witnessctl: query config: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("witnessctl: node has no config exposed: status %d", resp.StatusCode)
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(peersCmd, healthCmd, configCmd)
}
