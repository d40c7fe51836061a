package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GrandTotal labels the trailing total row and column
const GrandTotal = "Grand Total"

// PivotTable is a two-dimensional sum of cost. Rows and Columns hold the
// dimension values of each row and column; the grand total row and column,
// when present, are always last. A nil cell had no contributing rows.
type PivotTable struct {
	RowDims []string
	ColDims []string
	Rows    [][]string
	Columns [][]string
	Values  [][]*float64
}

// IsEmpty reports whether the table has no data
func (p *PivotTable) IsEmpty() bool {
	return len(p.Rows) == 0
}

// Cell returns the value at the given row and column keys
func (p *PivotTable) Cell(row, col []string) (float64, bool) {
	ri, ci := indexOf(p.Rows, row), indexOf(p.Columns, col)
	if ri < 0 || ci < 0 || p.Values[ri][ci] == nil {
		return 0, false
	}
	return *p.Values[ri][ci], true
}

func indexOf(keys [][]string, key []string) int {
	for i, k := range keys {
		if equalKey(k, key) {
			return i
		}
	}
	return -1
}

func equalKey(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteCSV renders the table with one header line per column level
func (p *PivotTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if p.IsEmpty() {
		cw.Flush()
		return cw.Error()
	}

	for level := range p.ColDims {
		line := make([]string, 0, len(p.RowDims)+len(p.Columns))
		for i := range p.RowDims {
			if level == len(p.ColDims)-1 {
				line = append(line, p.RowDims[i])
			} else {
				line = append(line, "")
			}
		}
		for _, col := range p.Columns {
			line = append(line, col[level])
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}

	for r, row := range p.Rows {
		line := append([]string{}, row...)
		for _, v := range p.Values[r] {
			if v == nil {
				line = append(line, "")
				continue
			}
			line = append(line, strconv.FormatFloat(*v, 'f', 2, 64))
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// fact is one contribution to the pivot
type fact struct {
	row   []string
	month time.Time
	sub   string // second column level, empty for single-level columns
	cost  float64
}

type colKey struct {
	month time.Time
	sub   string
}

// buildPivot sums facts into a table. Rows sort lexically; columns sort by
// month then by second level. Grand totals go last.
func buildPivot(rowDims, colDims []string, monthLayout string, facts []fact) *PivotTable {
	p := &PivotTable{RowDims: rowDims, ColDims: colDims}
	if len(facts) == 0 {
		return p
	}
	twoLevel := len(colDims) > 1

	rowIndex := make(map[string]int)
	var rowKeys [][]string
	colSet := make(map[colKey]bool)
	cells := make(map[string]map[colKey]float64)

	for _, f := range facts {
		k := strings.Join(f.row, "\x00")
		if _, ok := rowIndex[k]; !ok {
			rowIndex[k] = len(rowKeys)
			rowKeys = append(rowKeys, f.row)
			cells[k] = make(map[colKey]float64)
		}
		ck := colKey{month: f.month, sub: f.sub}
		colSet[ck] = true
		cells[k][ck] += f.cost
	}

	sort.Slice(rowKeys, func(i, j int) bool { return lessKey(rowKeys[i], rowKeys[j]) })
	cols := make([]colKey, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool {
		if !cols[i].month.Equal(cols[j].month) {
			return cols[i].month.Before(cols[j].month)
		}
		return cols[i].sub < cols[j].sub
	})

	for _, c := range cols {
		label := []string{c.month.Format(monthLayout)}
		if twoLevel {
			label = append(label, c.sub)
		}
		p.Columns = append(p.Columns, label)
	}
	total := []string{GrandTotal}
	if twoLevel {
		total = append(total, "")
	}
	p.Columns = append(p.Columns, total)

	colTotals := make([]float64, len(cols))
	var grand float64
	for _, rk := range rowKeys {
		row := cells[strings.Join(rk, "\x00")]
		values := make([]*float64, len(cols)+1)
		var rowTotal float64
		for i, c := range cols {
			if v, ok := row[c]; ok {
				values[i] = ptr(v)
				rowTotal += v
				colTotals[i] += v
			}
		}
		values[len(cols)] = ptr(rowTotal)
		grand += rowTotal
		p.Rows = append(p.Rows, rk)
		p.Values = append(p.Values, values)
	}

	totalRow := make([]string, len(rowDims))
	totalRow[0] = GrandTotal
	totals := make([]*float64, len(cols)+1)
	for i := range cols {
		totals[i] = ptr(colTotals[i])
	}
	totals[len(cols)] = ptr(grand)
	p.Rows = append(p.Rows, totalRow)
	p.Values = append(p.Values, totals)
	return p
}

func lessKey(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func ptr(v float64) *float64 { return &v }
