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

package renderer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nuclio/radon/pkg/daemon"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/nuclio/errors"
	"gopkg.in/yaml.v3"
)

const (
	OutputFormatText = "text"
	OutputFormatWide = "wide"
	OutputFormatJSON = "json"
	OutputFormatYAML = "yaml"
)

type Renderer struct {
	output io.Writer
}

func NewRenderer(output io.Writer) *Renderer {
	return &Renderer{
		output: output,
	}
}

// RenderStatus renders a daemon status report in format. The wide format adds the exit
// history and the reply of every child
func (r *Renderer) RenderStatus(statusReport *daemon.StatusReport, format string) error {
	switch format {
	case OutputFormatJSON:
		return r.RenderJSON(statusReport)
	case OutputFormatYAML:
		return r.RenderYAML(statusReport)
	case OutputFormatText, OutputFormatWide, "":
	default:
		return errors.Errorf("Unknown output format: %s", format)
	}

	wide := format == OutputFormatWide

	fmt.Fprintf(r.output, "%s (pid %d, version %s)\n", // nolint: errcheck
		statusReport.AppName,
		statusReport.Pid,
		statusReport.Version)

	header := []interface{}{"ID", "Group", "Pid", "Status", "Started", "Up Since"}
	if wide {
		header = append(header, "Exits", "Reply")
	}

	var records [][]interface{}
	for _, childStatus := range statusReport.Children {
		if childStatus.Snapshot == nil {
			continue
		}

		record := []interface{}{
			childStatus.ID,
			childStatus.Group,
			childStatus.Pid,
			string(childStatus.Status),
			childStatus.Started,
			formatTime(childStatus.StartedAt),
		}

		if wide {
			record = append(record, len(childStatus.Exits), formatReply(childStatus.Reply))
		}

		records = append(records, record)
	}

	r.RenderTable(header, records)
	return nil
}

func (r *Renderer) RenderTable(header []interface{}, records [][]interface{}) {
	tableWriter := table.NewWriter()
	tableWriter.SetOutputMirror(r.output)

	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Options.SeparateRows = false
	style.Options.SeparateColumns = true
	tableWriter.SetStyle(style)

	tableWriter.AppendHeader(table.Row(header))
	for _, record := range records {
		tableWriter.AppendRow(table.Row(record))
	}

	tableWriter.Render()
}

func (r *Renderer) RenderJSON(items interface{}) error {
	body, err := json.MarshalIndent(items, "", "\t")
	if err != nil {
		return errors.Wrap(err, "Failed to render JSON")
	}

	fmt.Fprintln(r.output, string(body)) // nolint: errcheck
	return nil
}

func (r *Renderer) RenderYAML(items interface{}) error {
	encoder := yaml.NewEncoder(r.output)
	encoder.SetIndent(2)

	if err := encoder.Encode(items); err != nil {
		return errors.Wrap(err, "Failed to render YAML")
	}

	return encoder.Close()
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}

	return value.Format(time.RFC3339)
}

func formatReply(reply interface{}) string {
	if reply == nil {
		return "-"
	}

	encodedReply, err := json.Marshal(reply)
	if err != nil {
		return fmt.Sprint(reply)
	}

	return strings.TrimSpace(string(encodedReply))
}
