// ABOUTME: Commands that query a running gateway over its HTTP API
// ABOUTME: health checks liveness, pool prints backend slot occupancy

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/asr-gateway/internal/gateway"
)

func init() {
	rootCmd.AddCommand(healthCmd, poolCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiGet(cmd.Context(), "/health")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Println("healthy:", string(body))
		return nil
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show backend pool occupancy",
	Args:  cobra.NoArgs,
	RunE:  runPool,
}

func runPool(cmd *cobra.Command, args []string) error {
	body, err := apiGet(cmd.Context(), "/api/pool")
	if err != nil {
		return err
	}
	var resp gateway.PoolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding pool response: %w", err)
	}

	st := resp.Stats
	fmt.Printf("size %d  open %d  bound %d  available %d\n\n", st.Size, st.Open, st.Bound, st.Available)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tSTATE\tQUEUED\tSESSION")
	for _, s := range resp.Slots {
		state := s.State
		switch state {
		case "open":
			state = color.GreenString(state)
		case "closed":
			state = color.RedString(state)
		}
		session := s.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", s.Index, state, s.Queued, session)
	}
	return tw.Flush()
}

// apiGet fetches path from the configured gateway address.
func apiGet(ctx context.Context, path string) ([]byte, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	addr := cfg.Server.Addr
	if host, port, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
