package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/tikinang/ppa-submit/ppa"
)

func stateColor(s ppa.State) pterm.Color {
	switch s {
	case ppa.StateUploaded:
		return pterm.FgGreen
	case ppa.StateSkipped, ppa.StateDryRun:
		return pterm.FgCyan
	case ppa.StateFailed:
		return pterm.FgRed
	default:
		return pterm.FgYellow
	}
}

func summaryTable(summary *ppa.Summary) pterm.TableData {
	data := pterm.TableData{{"Release", "Outcome", "Version", "Transport", "Detail"}}
	for _, t := range summary.Targets {
		data = append(data, []string{
			t.Release,
			stateColor(t.State).Sprint(string(t.State)),
			t.Version,
			t.Transport,
			t.Detail,
		})
	}
	return data
}

func printSummary(w io.Writer, summary *ppa.Summary) {
	pterm.Fprintln(w)
	pterm.Fprintln(w, pterm.Bold.Sprintf("%s (content hash %s)", summary.Package, summary.ShortHash))
	table, err := pterm.DefaultTable.WithHasHeader().WithData(summaryTable(summary)).Srender()
	if err != nil {
		pterm.Fprintln(w, err.Error())
		return
	}
	pterm.Fprintln(w, table)
}

func writeSummaryFile(path string, summary *ppa.Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "encoding summary")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "writing summary")
}
