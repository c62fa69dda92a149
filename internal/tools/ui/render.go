package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// RenderIntegrityReport draws one row per line item with its verdict.
func RenderIntegrityReport(report *service.IntegrityReport) string {
	var rows []string
	header := fmt.Sprintf("%-4s %-24s %5s %10s %10s  %s", "#", "product", "qty", "unit", "total", "status")
	rows = append(rows, titleStyle.Render(header))
	for _, line := range report.Lines {
		status := okStyle.Render("ok")
		if !line.IntegrityValid {
			status = failStyle.Render("TAMPERED")
		}
		rows = append(rows, fmt.Sprintf("%-4d %-24s %5d %10s %10s  %s",
			line.Position, truncate(line.ProductID, 24), line.Quantity, line.UnitPrice, line.LineTotal, status))
	}
	verdict := okStyle.Render("transaction " + report.TransactionID + " intact")
	if !report.IntegrityValid {
		verdict = failStyle.Render("transaction " + report.TransactionID + " has tampered lines")
	}
	rows = append(rows, "", verdict)
	return boxStyle.Render(strings.Join(rows, "\n"))
}

// IntegrityDetails is the plain-text form used by the progress view and CI output.
func IntegrityDetails(report *service.IntegrityReport) []string {
	out := make([]string, 0, len(report.Lines))
	for _, line := range report.Lines {
		state := "ok"
		if !line.IntegrityValid {
			state = "tampered"
		}
		out = append(out, fmt.Sprintf("line %d product=%s qty=%d total=%s: %s", line.Position, line.ProductID, line.Quantity, line.LineTotal, state))
	}
	return out
}

func RenderStrength(report security.StrengthReport) string {
	style := okStyle
	switch report.Strength {
	case security.StrengthWeak:
		style = failStyle
	case security.StrengthMedium:
		style = accentStyle
	}
	rows := []string{titleStyle.Render("strength: ") + style.Render(string(report.Strength))}
	for _, e := range report.Errors {
		rows = append(rows, failStyle.Render("✘ ")+e)
	}
	if report.IsValid {
		rows = append(rows, okStyle.Render("✔ meets the credential policy"))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
