package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipmill/internal/batch"
)

func newStatusCommand() *cobra.Command {
	var (
		apiURL   string
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a batch job on a running API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 30 * time.Second}
			for {
				snap, err := fetchSnapshot(cmd.Context(), client, apiURL, args[0])
				if err != nil {
					return err
				}
				if !watch || snap.Status.Terminal() {
					renderSnapshot(cmd.OutOrStdout(), snap)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %d%% (%d/%d)\n", snap.ID, snap.Status, snap.Progress, snap.Completed, snap.Total)

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}

	defaultAPI := strings.TrimSpace(os.Getenv("CLIPMILL_API"))
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}
	cmd.Flags().StringVar(&apiURL, "api", defaultAPI, "Base URL of the clipmill API")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval with --watch")

	return cmd
}

func fetchSnapshot(ctx context.Context, client *http.Client, apiURL, jobID string) (batch.Snapshot, error) {
	var snap batch.Snapshot

	endpoint := strings.TrimRight(apiURL, "/") + "/v1/batches/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snap, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return snap, fmt.Errorf("query api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return snap, fmt.Errorf("api http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}
