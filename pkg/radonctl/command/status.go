/*
Copyright 2023 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon"
	"github.com/nuclio/radon/pkg/renderer"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

// statusClient reads the status of a running daemon from its monitor
type statusClient struct {
	baseURL    string
	httpClient *http.Client
}

func newStatusClient(daemonFile *config.DaemonFile) (*statusClient, error) {
	monitorConfiguration := daemonFile.Daemon.Monitor
	if !monitorConfiguration.IsEnabled() {
		return nil, errors.New("The daemon monitor is disabled, status is not available")
	}

	host, port, err := net.SplitHostPort(monitorConfiguration.ListenAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid monitor address %s", monitorConfiguration.ListenAddress)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return &statusClient{
		baseURL:    "http://" + net.JoinHostPort(host, port),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *statusClient) getStatus(ctx context.Context, id string) (*daemon.StatusReport, error) {
	statusURL := c.baseURL + "/status"
	if id != "" {
		statusURL += "?id=" + url.QueryEscape(id)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create status request")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, newExitError(ExitNotRunning, "Daemon is not reachable at %s: %s", c.baseURL, err.Error())
	}
	defer response.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read status response")
	}

	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("Status query failed with %d: %s", response.StatusCode, string(body))
	}

	statusReport := &daemon.StatusReport{}
	if err := json.Unmarshal(body, statusReport); err != nil {
		return nil, errors.Wrap(err, "Failed to decode status response")
	}

	return statusReport, nil
}

type statusCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	output         string
}

func newStatusCommandeer(rootCommandeer *RootCommandeer) *statusCommandeer {
	commandeer := &statusCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Display the status of the daemon's processes, a group's or a single process'",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}

			return commandeer.run(cmd.Context(), id)
		},
	}

	addOutputFlag(cmd, &commandeer.output)

	commandeer.cmd = cmd

	return commandeer
}

func (s *statusCommandeer) run(ctx context.Context, id string) error {
	daemonFile, err := s.rootCommandeer.readDaemonFile()
	if err != nil {
		return err
	}

	client, err := newStatusClient(daemonFile)
	if err != nil {
		return err
	}

	statusReport, err := client.getStatus(ctx, id)
	if err != nil {
		return err
	}

	return renderer.NewRenderer(s.rootCommandeer.output).
		RenderStatus(statusReport, outputFormat(s.output, s.rootCommandeer.verbose))
}

type monitorCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	output         string
	interval       time.Duration
	count          int
}

func newMonitorCommandeer(rootCommandeer *RootCommandeer) *monitorCommandeer {
	commandeer := &monitorCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "monitor [id]",
		Short: "Display the status of the daemon's processes periodically",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 0 {
				id = args[0]
			}

			return commandeer.run(cmd.Context(), id)
		},
	}

	addOutputFlag(cmd, &commandeer.output)
	cmd.Flags().DurationVar(&commandeer.interval, "interval", 2*time.Second, "Time between status queries")
	cmd.Flags().IntVar(&commandeer.count, "count", 0, "Number of status queries, 0 to run until interrupted")

	commandeer.cmd = cmd

	return commandeer
}

func (m *monitorCommandeer) run(ctx context.Context, id string) error {
	daemonFile, err := m.rootCommandeer.readDaemonFile()
	if err != nil {
		return err
	}

	client, err := newStatusClient(daemonFile)
	if err != nil {
		return err
	}

	statusRenderer := renderer.NewRenderer(m.rootCommandeer.output)
	format := outputFormat(m.output, m.rootCommandeer.verbose)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for iteration := 1; ; iteration++ {
		statusReport, err := client.getStatus(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintf(m.rootCommandeer.output, "\n%s\n", time.Now().Format(time.RFC3339)) // nolint: errcheck

		if err := statusRenderer.RenderStatus(statusReport, format); err != nil {
			return err
		}

		if m.count > 0 && iteration >= m.count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", renderer.OutputFormatText, "Output format - \"text\", \"wide\", \"json\" or \"yaml\"")
}

// outputFormat widens the text format when verbose
func outputFormat(format string, verbose bool) string {
	if verbose && format == renderer.OutputFormatText {
		return renderer.OutputFormatWide
	}

	return format
}
