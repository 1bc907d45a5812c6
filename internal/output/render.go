package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary lipgloss.Style
	Muted   lipgloss.Style
	Data    lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
	Success lipgloss.Style

	Header    lipgloss.Style
	Cell      lipgloss.Style
	CellMuted lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY, or when
// forceStyled is true. NO_COLOR disables colors but keeps the layout.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, isTTY := terminalInfo(w)
	styled := (isTTY || forceStyled) && os.Getenv("NO_COLOR") == ""

	if styled {
		lipgloss.SetColorProfile(termenv.TrueColor)
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	r := &Renderer{width: width, styled: styled}

	if styled {
		r.Summary = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff")).Bold(true)
		r.Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
		r.Data = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
		r.Error = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149")).Bold(true)
		r.Hint = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e")).Italic(true)
		r.Success = lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950"))
		r.Header = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9")).Bold(true)
		r.Cell = lipgloss.NewStyle().Foreground(lipgloss.Color("#c9d1d9"))
		r.CellMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
	} else {
		r.Summary = lipgloss.NewStyle()
		r.Muted = lipgloss.NewStyle()
		r.Data = lipgloss.NewStyle()
		r.Error = lipgloss.NewStyle()
		r.Hint = lipgloss.NewStyle()
		r.Success = lipgloss.NewStyle()
		r.Header = lipgloss.NewStyle()
		r.Cell = lipgloss.NewStyle()
		r.CellMuted = lipgloss.NewStyle()
	}

	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, isTTY bool) {
	width = 80

	if f, ok := w.(*os.File); ok {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w >= 40 {
			width = w
		}
		fi, err := f.Stat()
		if err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
			isTTY = true
		}
	}

	return width, isTTY
}

// RenderEnvelope renders an envelope for humans.
func (r *Renderer) RenderEnvelope(w io.Writer, env *Envelope, summary string) error {
	var b strings.Builder

	if !env.Success {
		b.WriteString(r.Error.Render("Error: " + env.Error))
		b.WriteString("\n")
		if env.Hint != "" {
			b.WriteString(r.Hint.Render("Hint: " + env.Hint))
			b.WriteString("\n")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	if summary != "" {
		b.WriteString(r.Summary.Render(summary))
		b.WriteString("\n\n")
	}

	switch {
	case len(env.Data) > 0:
		r.renderData(&b, decode(env.Data))
	case env.HasUser():
		r.renderData(&b, decode(env.User))
	case len(env.User) > 0:
		b.WriteString(r.Muted.Render("(not signed in)"))
		b.WriteString("\n")
	case summary == "":
		b.WriteString(r.Success.Render("OK"))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func decode(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case map[string]any:
		r.renderObject(b, d)

	case []any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		if maps := toMapSlice(d); maps != nil {
			r.renderTable(b, maps)
			return
		}
		for _, item := range d {
			b.WriteString(r.Data.Render("• " + formatCell(item)))
			b.WriteString("\n")
		}

	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")

	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

func toMapSlice(slice []any) []map[string]any {
	result := make([]map[string]any, 0, len(slice))
	for _, item := range slice {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		result = append(result, flatten(m))
	}
	return result
}

// Nested objects whose scalar fields are worth a column (notification subject,
// issue repository, ...).
var flattenKeys = map[string]bool{
	"subject":    true,
	"repository": true,
	"owner":      true,
}

func flatten(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nested, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		if !flattenKeys[k] {
			continue
		}
		for nk, nv := range nested {
			switch nv.(type) {
			case map[string]any, []any:
				continue
			}
			out[k+"."+nk] = nv
		}
	}
	return out
}

// Column priority for table rendering (lower = higher priority)
var columnPriority = map[string]int{
	"number":                 1,
	"full_name":              2,
	"title":                  2,
	"subject.title":          2,
	"repository.full_name":   3,
	"state":                  4,
	"reason":                 4,
	"subject.type":           5,
	"language":               5,
	"private":                6,
	"stargazers_count":       7,
	"unread":                 7,
	"updated_at":             9,
	"id":                     10,
	"description":            11,
	"repository.name":        40,
	"repository.private":     40,
	"repository.html_url":    45,
	"subject.url":            45,
	"subject.latest_comment": 45,
}

var mutedColumns = map[string]bool{
	"id":         true,
	"updated_at": true,
}

// Columns that never fit a terminal table.
var skipColumns = map[string]bool{
	"node_id":   true,
	"body":      true,
	"url":       true,
	"html_url":  true,
	"git_url":   true,
	"ssh_url":   true,
	"clone_url": true,
	"svn_url":   true,
}

type column struct {
	key      string
	header   string
	priority int
	muted    bool
	width    int
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	columns := r.detectColumns(data)
	if len(columns) == 0 {
		return
	}
	columns = r.selectColumns(columns, data)

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if col < len(columns) && columns[col].muted {
				return r.CellMuted
			}
			return r.Cell
		})

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.header
	}
	t.Headers(headers...)

	for _, item := range data {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = truncate(formatCell(item[col.key]), 40)
		}
		t.Row(row...)
	}

	b.WriteString(t.String())
	b.WriteString("\n")
}

func (r *Renderer) detectColumns(data []map[string]any) []column {
	var cols []column
	for key, val := range data[0] {
		if skipColumns[key] || strings.HasSuffix(key, "_url") && columnPriority[key] == 0 {
			continue
		}
		if _, nested := val.([]any); nested {
			continue
		}
		priority := columnPriority[key]
		if priority == 0 {
			priority = 50
		}
		cols = append(cols, column{
			key:      key,
			header:   formatHeader(key),
			priority: priority,
			muted:    mutedColumns[key],
		})
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].priority != cols[j].priority {
			return cols[i].priority < cols[j].priority
		}
		return cols[i].key < cols[j].key
	})
	return cols
}

func (r *Renderer) selectColumns(cols []column, data []map[string]any) []column {
	for i := range cols {
		cols[i].width = lipgloss.Width(cols[i].header)
		for _, row := range data {
			if w := lipgloss.Width(formatCell(row[cols[i].key])); w > cols[i].width {
				cols[i].width = w
			}
		}
		if cols[i].width > 40 {
			cols[i].width = 40
		}
	}

	padding := 2
	selected := cols
	for len(selected) > 1 {
		total := 0
		for _, col := range selected {
			total += col.width + padding
		}
		if total <= r.width {
			break
		}
		selected = selected[:len(selected)-1]
	}
	return selected
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k, v := range data {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		if v == nil || skipColumns[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := columnPriority[keys[i]], columnPriority[keys[j]]
		if pi == 0 {
			pi = 50
		}
		if pj == 0 {
			pj = 50
		}
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		b.WriteString(r.Muted.Render(formatHeader(k) + ":"))
		b.WriteString(" ")
		b.WriteString(r.Data.Render(formatCell(data[k])))
		b.WriteString("\n")
	}
}

func formatHeader(key string) string {
	key = strings.ReplaceAll(key, ".", " ")
	key = strings.ReplaceAll(key, "_", " ")
	return strings.ToUpper(key[:1]) + key[1:]
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truncate(s string, max int) string {
	if lipgloss.Width(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
