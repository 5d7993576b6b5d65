// Package console renders the startup strategy card and the final session report.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginBottom(1)

	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(14)

	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

// StrategyCard summary of the loaded strategy and its backtest metrics.
func StrategyCard(s domain.Strategy, perf *domain.Performance) string {
	rows := []string{
		titleStyle.Render("📋 " + nonEmpty(s.ID, "Unnamed strategy")),
		row("Symbol", s.CoinSymbol),
		row("Timeframe", s.Timeframe),
		row("Allocation", s.Allocation.String()+"%"),
		row("Stop Loss", s.StopLoss.String()+"%"),
		row("Take Profit", s.TakeProfit.String()+"%"),
	}
	if perf != nil {
		rows = append(rows,
			row("Win Rate", fmt.Sprintf("%.1f%%", perf.WinRate)),
			row("Total Return", fmt.Sprintf("%.1f%%", perf.TotalReturn)),
			row("Sharpe", fmt.Sprintf("%.2f", perf.SharpeRatio)),
		)
	}
	rows = append(rows, row("Entry", s.EntryRules), row("Exit", s.ExitRules))

	return cardStyle.Render(strings.Join(rows, "\n"))
}

// FinalReport position and P&L when the session stops.
func FinalReport(snap domain.SessionSnapshot, base string) string {
	rows := []string{
		titleStyle.Render("🛑 Trading stopped"),
		row("Position", fmt.Sprintf("%s %s", snap.Position.Amount.StringFixed(6), base)),
	}

	switch {
	case snap.Position.IsOpen() && snap.Position.EntryPrice.IsPositive():
		rows = append(rows,
			row("Entry", "$"+snap.Position.EntryPrice.StringFixed(2)),
			row("Price", "$"+snap.Price.StringFixed(2)),
			row("Position P&L", colored(snap.Position.PnLPercent(snap.Price))),
		)
	case snap.Position.IsOpen():
		rows = append(rows, row("Position P&L", "N/A (no entry price)"))
	}

	if snap.Portfolio.InitialValue.IsPositive() {
		rows = append(rows,
			row("Portfolio", "$"+snap.Portfolio.TotalValue.StringFixed(2)),
			row("Total P&L", colored(snap.Portfolio.PnLPercent())),
		)
	}
	rows = append(rows, row("Trades", fmt.Sprintf("%d", len(snap.Transactions))))

	return cardStyle.Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func colored(pct decimal.Decimal) string {
	text := pct.StringFixed(2) + "%"
	if !pct.IsNegative() {
		return gainStyle.Render("+" + text)
	}
	return lossStyle.Render(text)
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
