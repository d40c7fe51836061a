package blobimport

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/normalize"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"gorm.io/datatypes"
)

// dateColumns hold dates that are stored as YYYY-MM-DD strings
var dateColumns = map[string]bool{
	"date":                      true,
	"billing_period_start_date": true,
	"billing_period_end_date":   true,
	"exchange_rate_date":        true,
}

// dateLayouts are tried in order when coercing date columns
var dateLayouts = []string{
	"01/02/2006",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102",
	"1/2/2006",
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindFloat
	kindBool
	kindJSON
)

type field struct {
	index []int
	kind  fieldKind
}

var (
	schemaOnce sync.Once
	schema     map[string]field
)

// reportSchema maps each csv tag of ReportRow to its field
func reportSchema() map[string]field {
	schemaOnce.Do(func() {
		schema = make(map[string]field)
		t := reflect.TypeOf(store.ReportRow{})
		jsonType := reflect.TypeOf(datatypes.JSON{})
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := f.Tag.Get("csv")
			if tag == "" {
				continue
			}
			var kind fieldKind
			switch {
			case f.Type == jsonType:
				kind = kindJSON
			case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Float64:
				kind = kindFloat
			case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Bool:
				kind = kindBool
			default:
				kind = kindString
			}
			schema[tag] = field{index: f.Index, kind: kind}
		}
	})
	return schema
}

// columnPlan binds CSV column positions to ReportRow fields. Columns with no
// matching field are left out.
type columnPlan struct {
	names  []string
	fields []*field
}

func newColumnPlan(header []string) columnPlan {
	s := reportSchema()
	plan := columnPlan{names: normalize.Headers(header), fields: make([]*field, len(header))}
	for i, name := range plan.names {
		if f, ok := s[name]; ok {
			plan.fields[i] = &f
		}
	}
	return plan
}

// matched counts the header columns that map to a field
func (p columnPlan) matched() int {
	n := 0
	for _, f := range p.fields {
		if f != nil {
			n++
		}
	}
	return n
}

// isNull reports whether a cell is one of the empty or not-a-number sentinels
func isNull(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "NaN", "nan", "NAN", "null", "NULL":
		return true
	}
	return false
}

// coerceDate rewrites a date cell as YYYY-MM-DD; unparseable dates are nil
func coerceDate(value string) *string {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			s := t.Format("2006-01-02")
			return &s
		}
	}
	return nil
}

// coerceJSON parses a JSON cell, falling back to an empty object
func coerceJSON(value string) datatypes.JSON {
	value = strings.TrimSpace(value)
	if value != "" && json.Valid([]byte(value)) {
		return datatypes.JSON(value)
	}
	return datatypes.JSON("{}")
}

// buildRow fills a ReportRow from one CSV record
func (p columnPlan) buildRow(record []string, line int) (store.ReportRow, error) {
	var row store.ReportRow
	v := reflect.ValueOf(&row).Elem()
	row.AdditionalInfo = datatypes.JSON("{}")

	for i, f := range p.fields {
		if f == nil || i >= len(record) {
			continue
		}
		name := p.names[i]
		cell := record[i]
		if isNull(cell) {
			continue
		}
		target := v.FieldByIndex(f.index)

		switch f.kind {
		case kindJSON:
			target.Set(reflect.ValueOf(coerceJSON(cell)))
		case kindFloat:
			n, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return row, &ingesterr.ValidationError{Record: line, Field: name, Err: err}
			}
			if math.IsNaN(n) {
				continue
			}
			target.Set(reflect.ValueOf(&n))
		case kindBool:
			b, err := strconv.ParseBool(strings.TrimSpace(cell))
			if err != nil {
				return row, &ingesterr.ValidationError{Record: line, Field: name, Err: err}
			}
			target.Set(reflect.ValueOf(&b))
		default:
			if dateColumns[name] {
				if d := coerceDate(cell); d != nil {
					target.Set(reflect.ValueOf(d))
				}
				continue
			}
			s := cell
			target.Set(reflect.ValueOf(&s))
		}
	}
	return row, nil
}

// lineError describes a record that could not be read at all
func lineError(line int, err error) error {
	return &ingesterr.ValidationError{Record: line, Err: fmt.Errorf("malformed csv record: %w", err)}
}
