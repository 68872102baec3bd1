package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rewired-gh/pulsewatch/internal/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	highStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

var snapshotHeaders = []string{"#", "Symbol", "Price", "5m", "24h", "Volume", "Vol Ratio", "Rel Vol", "Spike", "Day High", ""}

// SnapshotTable renders up to rows snapshots in the given order. rows <= 0
// renders all of them.
func SnapshotTable(snapshots []models.EnrichedSnapshot, rows int) string {
	if rows > 0 && len(snapshots) > rows {
		snapshots = snapshots[:rows]
	}
	data := make([][]string, 0, len(snapshots))
	for i, s := range snapshots {
		marker := ""
		if s.IsNewHigh {
			marker = "NEW HIGH"
		}
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			s.Symbol,
			FormatCurrency(s.Price),
			FormatPercent(s.PriceChange5m),
			FormatPercent(s.ChangePct24h),
			FormatLargeNumber(s.Volume),
			FormatRatio(s.VolumeRatio),
			FormatRatio(s.RelativeVolume),
			FormatRatio(s.SpikeFactor),
			FormatCurrency(s.DayHigh),
			marker,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(snapshotHeaders...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(snapshots) {
				return cellStyle
			}
			s := snapshots[row]
			switch col {
			case 3:
				return signStyle(s.PriceChange5m)
			case 4:
				return signStyle(s.ChangePct24h)
			case 10:
				return highStyle.Padding(0, 1)
			}
			return cellStyle
		})
	return t.Render()
}

func signStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return upStyle.Padding(0, 1)
	case v < 0:
		return downStyle.Padding(0, 1)
	}
	return cellStyle
}

// AlertFeed renders the newest alerts, one per line.
func AlertFeed(alerts []models.Alert, limit int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Alerts (%d)", len(alerts))))
	b.WriteByte('\n')
	if len(alerts) == 0 {
		b.WriteString(mutedStyle.Render("  no alerts"))
		b.WriteByte('\n')
		return b.String()
	}
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	for _, a := range alerts {
		fmt.Fprintf(&b, "  %s  %-14s %-8s %s  5m %s  vol %s  rel %s\n",
			mutedStyle.Render(a.Timestamp.Local().Format("15:04:05")),
			CategoryLabel(a.Category),
			a.Symbol,
			FormatCurrency(a.Price),
			FormatPercent(a.PriceChange5m),
			FormatRatio(a.VolumeRatio),
			FormatRatio(a.RelativeVolume),
		)
	}
	return b.String()
}

// CategoryLabel is the human-readable name of an alert category.
func CategoryLabel(c models.Category) string {
	switch c {
	case models.CategoryNewHigh:
		return "New High"
	case models.CategoryVolumeSpike:
		return "Volume Spike"
	case models.CategoryMomentum:
		return "Momentum"
	}
	return string(c)
}

// Source supplies what the console shows on each frame.
type Source interface {
	Snapshots() []models.EnrichedSnapshot
	Alerts() []models.Alert
}

// Console redraws the snapshot table and alert feed on a fixed interval.
type Console struct {
	w     io.Writer
	src   Source
	rows  int
	feed  int
	clear bool
}

func NewConsole(w io.Writer, src Source, rows int) *Console {
	return &Console{w: w, src: src, rows: rows, feed: 10, clear: true}
}

// Frame renders one full screen.
func (c *Console) Frame(now time.Time) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("pulsewatch " + now.Local().Format("2006-01-02 15:04:05")))
	b.WriteByte('\n')
	b.WriteString(SnapshotTable(c.src.Snapshots(), c.rows))
	b.WriteByte('\n')
	b.WriteString(AlertFeed(c.src.Alerts(), c.feed))
	return b.String()
}

// Run redraws until ctx is cancelled.
func (c *Console) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.clear {
				io.WriteString(c.w, "\033[H\033[2J")
			}
			io.WriteString(c.w, c.Frame(now))
		}
	}
}
