package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

// RenderTable renders rows as a bordered console table. Columns listed in
// numeric are right-aligned.
func RenderTable(title string, headers []string, rows [][]string, numeric ...int) string {
	right := make(map[int]bool, len(numeric))
	for _, n := range numeric {
		right[n] = true
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case right[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})

	if title == "" {
		return t.String()
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.String())
}

// PrintTable writes RenderTable's output followed by a newline.
func PrintTable(w io.Writer, title string, headers []string, rows [][]string, numeric ...int) error {
	_, err := fmt.Fprintln(w, RenderTable(title, headers, rows, numeric...))
	return err
}
