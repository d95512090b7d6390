package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
	"github.com/polyrepo-tools/polybuild/pkg/runner"
)

// printReport renders the outcome of a run as a table plus a summary line.
func printReport(report *runner.Report) {
	rows := [][]string{}
	for _, status := range []runner.Status{
		runner.StatusSucceeded,
		runner.StatusFailed,
		runner.StatusBlocked,
		runner.StatusNotStarted,
	} {
		for _, name := range report.ByStatus(status) {
			res := report.Results[name]

			detail := ""
			switch status {
			case runner.StatusSucceeded:
				detail = res.Duration.Round(time.Millisecond).String()
			case runner.StatusFailed, runner.StatusBlocked:
				if res.Err != nil {
					detail = errors.UserMessage(res.Err)
				}
			}
			rows = append(rows, []string{name, status.String(), detail})
		}
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Package", "Status", "Detail").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col != 1 || row >= len(rows) {
				return lipgloss.NewStyle()
			}
			switch rows[row][1] {
			case "succeeded":
				return StyleSuccess
			case "failed":
				return StyleError
			case "blocked":
				return StyleWarning
			default:
				return StyleDim
			}
		})

	fmt.Println(t.Render())
	printSummary(report)
}

// printSummary prints the one-line outcome under the table.
func printSummary(report *runner.Report) {
	succeeded := len(report.ByStatus(runner.StatusSucceeded))
	failed := len(report.ByStatus(runner.StatusFailed))
	blocked := len(report.ByStatus(runner.StatusBlocked))
	notStarted := len(report.ByStatus(runner.StatusNotStarted))

	elapsed := report.Duration.Round(time.Millisecond)
	switch {
	case report.OK():
		printSuccess("%s: %d packages in %s", report.Operation, succeeded, elapsed)
	case report.Canceled:
		printWarning("%s interrupted: %d done, %d not started", report.Operation, succeeded, notStarted)
	default:
		printError("%s: %d failed, %d blocked, %d succeeded", report.Operation, failed, blocked, succeeded)
	}

	// Failure diagnostics come from the backend verbatim and can span
	// many lines, so they go below the table rather than inside it.
	for _, name := range report.ByStatus(runner.StatusFailed) {
		if err := report.Results[name].Err; err != nil {
			printDetail("%s: %v", name, err)
		}
	}
}
