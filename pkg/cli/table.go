package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const columnGap = 2

// ansiSeq matches ANSI color sequences, which take no terminal columns.
var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// cellWidth is the number of terminal columns a cell occupies: runes, not
// bytes, with color sequences stripped.
func cellWidth(s string) int {
	return utf8.RuneCountInString(ansiSeq.ReplaceAllString(s, ""))
}

// terminalColumns reports the terminal width for stdout. COLUMNS overrides
// detection; 0 means stdout is not a terminal and no limit applies.
func terminalColumns() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 0 {
			return n
		}
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

// Table lays out device and command listings in aligned columns. Output is
// buffered until Flush, so an empty table prints nothing. When stdout is a
// terminal (or COLUMNS is set) over-wide cells are truncated with an
// ellipsis; a row never wraps.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row appends one row; missing trailing cells render empty.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Flush renders the table to stdout. No rows, no output.
func (t *Table) Flush() {
	t.Render(os.Stdout, terminalColumns())
}

// Render writes the table to w, truncating cells so each line fits within
// maxWidth columns (0 = unlimited).
func (t *Table) Render(w io.Writer, maxWidth int) {
	if len(t.rows) == 0 {
		return
	}

	widths := t.columnWidths()
	if maxWidth > 0 {
		fitColumns(widths, t.headers, maxWidth)
	}

	t.writeRow(w, t.headers, widths)
	divider := make([]string, len(t.headers))
	for i, width := range widths {
		divider[i] = strings.Repeat("-", width)
	}
	t.writeRow(w, divider, widths)
	for _, row := range t.rows {
		t.writeRow(w, row, widths)
	}
}

// columnWidths is the natural width of each column: the widest of the
// header and every cell.
func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = cellWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if cw := cellWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	return widths
}

// fitColumns shrinks columns until the line fits within maxWidth, always
// taking from the currently widest column and never below its header
// width. Stops when nothing can shrink further.
func fitColumns(widths []int, headers []string, maxWidth int) {
	total := func() int {
		sum := columnGap * (len(widths) - 1)
		for _, w := range widths {
			sum += w
		}
		return sum
	}

	for total() > maxWidth {
		widest, over := -1, 0
		for i, w := range widths {
			floor := cellWidth(headers[i])
			if w > floor && w-floor > over {
				widest, over = i, w-floor
			}
		}
		if widest < 0 {
			return // every column is at its header width already
		}
		excess := total() - maxWidth
		if excess > over {
			excess = over
		}
		widths[widest] -= excess
	}
}

func (t *Table) writeRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(widths))
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		cell = truncateCell(cell, width)
		pad := width - cellWidth(cell)
		if i == len(widths)-1 {
			pad = 0 // no trailing spaces after the last column
		}
		parts[i] = cell + strings.Repeat(" ", pad)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, strings.Repeat(" ", columnGap)), " "))
}

// truncateCell cuts a cell down to width columns, marking the cut with an
// ellipsis. Colored cells are stripped before cutting so a truncated color
// sequence can never leak into the rest of the line.
func truncateCell(s string, width int) string {
	if cellWidth(s) <= width {
		return s
	}
	plain := ansiSeq.ReplaceAllString(s, "")
	runes := []rune(plain)
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
