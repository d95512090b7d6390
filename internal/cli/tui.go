package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/polyrepo-tools/polybuild/pkg/depgraph"
	"github.com/polyrepo-tools/polybuild/pkg/manifest"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// PackageListModel - Interactive package selection
// =============================================================================

// packageRow is one selectable entry in the picker.
type packageRow struct {
	pkg        *manifest.Package
	dependents int
}

// PackageListModel is the bubbletea model for interactive package selection.
type PackageListModel struct {
	Rows     []packageRow
	Cursor   int
	Selected string
	Height   int
	Offset   int
}

// NewPackageListModel creates a package list model over the graph, ordered by
// name with dependent counts precomputed.
func NewPackageListModel(g *depgraph.Graph) PackageListModel {
	rows := make([]packageRow, 0, g.Len())
	for _, pkg := range g.Packages() {
		rows = append(rows, packageRow{
			pkg:        pkg,
			dependents: len(g.Dependents(pkg.Name)),
		})
	}
	return PackageListModel{
		Rows:   rows,
		Height: 15,
	}
}

func (m PackageListModel) Init() tea.Cmd {
	return nil
}

func (m PackageListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Rows)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "enter":
			m.Selected = m.Rows[m.Cursor].pkg.Name
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 6
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m PackageListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Select Package"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")

	end := m.Offset + m.Height
	if end > len(m.Rows) {
		end = len(m.Rows)
	}

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		r := m.Rows[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}

		backend := "poetry"
		if r.pkg.HasNativeExtension {
			backend = "maturin"
		}

		dependents := "—"
		if r.dependents > 0 {
			dependents = fmt.Sprintf("%d", r.dependents)
		}

		rows = append(rows, []string{cursor, r.pkg.Name, r.pkg.Version.String(), backend, dependents})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Package", "Version", "Backend", "Dependents").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if m.Offset+row == m.Cursor {
				return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
			}
			if col >= 2 {
				return lipgloss.NewStyle().Foreground(colorDim)
			}
			return lipgloss.NewStyle().Foreground(colorWhite)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Rows))))

	return b.String()
}

// pickPackage runs the interactive picker and returns the chosen package
// name, or "" when the picker was dismissed.
func pickPackage(g *depgraph.Graph) (string, error) {
	if g.Len() == 0 {
		return "", fmt.Errorf("no packages discovered")
	}

	program := tea.NewProgram(NewPackageListModel(g))
	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("package picker: %w", err)
	}
	if m, ok := final.(PackageListModel); ok {
		return m.Selected, nil
	}
	return "", nil
}
