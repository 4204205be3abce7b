package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/hydrotrace/aggregate"
	"github.com/teranos/hydrotrace/pipeline"
)

func printRunSummary(r *pipeline.Report) {
	pterm.DefaultSection.Println("Run summary")
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Seeds", "Succeeded", "Failed", "Aggregated", "Duration"},
		{
			fmt.Sprint(r.Discovered),
			pterm.Green(r.Succeeded),
			failedCell(r.Failed),
			fmt.Sprintf("%d/%d", r.Aggregated, r.Attempted),
			r.Duration.Round(time.Millisecond).String(),
		},
	}).Render()

	if len(r.Failures) > 0 {
		rows := pterm.TableData{{"Subject", "Stage", "Code", "Detail"}}
		for _, f := range r.Failures {
			rows = append(rows, []string{f.Subject, f.Stage, string(f.Code), f.Detail})
		}
		pterm.DefaultSection.Println("Failures")
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
	for _, w := range r.Warnings {
		pterm.Warning.Println(w)
	}
	if r.Path != "" {
		pterm.Info.Printf("Report written to %s\n", r.Path)
	}
}

func printAggregateSummary(r *aggregate.Report) {
	_ = pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Target", "Attempted", "Aggregated", "Failed"},
		{r.Target, fmt.Sprint(r.Attempted), pterm.Green(r.Aggregated), failedCell(r.Failed)},
	}).Render()
	for _, s := range r.FailedStores {
		pterm.Error.Printf("Failed to aggregate %s\n", s)
	}
}

func failedCell(n int) string {
	if n > 0 {
		return pterm.Red(n)
	}
	return fmt.Sprint(n)
}
