package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/store"
)

// Type names one of the pivot reports
type Type string

const (
	TypeSummary         Type = "summary"
	TypeServices        Type = "services"
	TypeMarketplaces    Type = "marketplaces"
	TypeVirtualMachines Type = "virtualmachines"
)

// Types lists every report type
var Types = []Type{TypeSummary, TypeServices, TypeMarketplaces, TypeVirtualMachines}

const (
	longMonth  = "January 2006"
	shortMonth = "Jan 2006"
	dateLayout = "2006-01-02"
)

// Options narrows the rows a report is built from
type Options struct {
	// SubscriptionID keeps only the rows of one subscription when set
	SubscriptionID string
	// Start and End keep rows whose billing period overlaps the window. A
	// zero bound leaves that side open, so the data's own range applies.
	Start time.Time
	End   time.Time
	// Rules drives the virtual machine report; the zero value means DefaultVMRules
	Rules *VMRules
}

// ParseType validates a report type name
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == strings.ToLower(s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown report type %q", s)
}

// Aggregate builds the pivot table of a report type from report rows. An
// empty selection yields an empty table.
func Aggregate(t Type, rows []store.ReportRow, opts Options) (*PivotTable, error) {
	selected := selectRows(rows, opts)
	switch t {
	case TypeSummary:
		return summary(selected), nil
	case TypeServices:
		return services(selected), nil
	case TypeMarketplaces:
		return marketplaces(selected), nil
	case TypeVirtualMachines:
		rules := DefaultVMRules()
		if opts.Rules != nil {
			rules = *opts.Rules
		}
		return virtualMachines(selected, rules)
	}
	return nil, fmt.Errorf("unknown report type %q", t)
}

// billedRow is a report row with its billing period parsed
type billedRow struct {
	store.ReportRow
	periodStart time.Time
	periodEnd   time.Time
}

// selectRows keeps rows with a billing period overlapping the window
func selectRows(rows []store.ReportRow, opts Options) []billedRow {
	out := make([]billedRow, 0, len(rows))
	for _, r := range rows {
		if opts.SubscriptionID != "" && r.SubscriptionID != opts.SubscriptionID {
			continue
		}
		start, ok1 := parseDate(r.BillingPeriodStartDate)
		end, ok2 := parseDate(r.BillingPeriodEndDate)
		if !ok1 || !ok2 {
			continue
		}
		if !opts.End.IsZero() && start.After(opts.End) {
			continue
		}
		if !opts.Start.IsZero() && end.Before(opts.Start) {
			continue
		}
		out = append(out, billedRow{ReportRow: r, periodStart: start, periodEnd: end})
	}
	return out
}

func parseDate(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, *s)
	return t, err == nil
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cost(r billedRow) float64 {
	if r.CostInBillingCurrency == nil {
		return 0
	}
	return *r.CostInBillingCurrency
}

// summary sums cost per subscription by month and publisher type
func summary(rows []billedRow) *PivotTable {
	facts := make([]fact, 0, len(rows))
	for _, r := range rows {
		name, publisher := str(r.SubscriptionName), str(r.PublisherType)
		if name == "" || publisher == "" {
			continue
		}
		facts = append(facts, fact{row: []string{name}, month: monthOf(r.periodEnd), sub: publisher, cost: cost(r)})
	}
	return buildPivot([]string{"subscription_name"}, []string{"month", "publisher_type"}, longMonth, facts)
}

// services sums cost per meter by month, leaving out unassigned meters
func services(rows []billedRow) *PivotTable {
	facts := make([]fact, 0, len(rows))
	for _, r := range rows {
		category, name := str(r.MeterCategory), str(r.MeterName)
		if category == "" || name == "" || category == "Unassigned" {
			continue
		}
		subCategory := str(r.MeterSubCategory)
		if subCategory == "" {
			subCategory = category
		}
		facts = append(facts, fact{row: []string{category, subCategory, name}, month: monthOf(r.periodStart), cost: cost(r)})
	}
	return buildPivot([]string{"meter_category", "meter_sub_category", "meter_name"}, []string{"month"}, shortMonth, facts)
}

// marketplaces sums marketplace cost per publisher plan by month
func marketplaces(rows []billedRow) *PivotTable {
	facts := make([]fact, 0, len(rows))
	for _, r := range rows {
		if !strings.EqualFold(str(r.PublisherType), "Marketplace") {
			continue
		}
		publisher, plan := str(r.PublisherName), str(r.PlanName)
		if publisher == "" || plan == "" {
			continue
		}
		facts = append(facts, fact{row: []string{publisher, plan}, month: monthOf(r.periodStart), cost: cost(r)})
	}
	return buildPivot([]string{"publisher_name", "plan_name"}, []string{"month"}, shortMonth, facts)
}

// vmLine is a machine or disk cost line while the VM rules are applied
type vmLine struct {
	name       string
	group      string
	tags       string
	category   string
	resourceID string
	month      time.Time
	sku        string
	cost       float64

	prefix *PrefixRule
	dims   []string
	vmName string
}

func additionalInfoValue(raw []byte, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return ""
	}
	if v, ok := info[key].(string); ok {
		return v
	}
	return ""
}

// virtualMachines sums machine and disk cost per machine by month and category
func virtualMachines(rows []billedRow, rules VMRules) (*PivotTable, error) {
	lines := make([]vmLine, 0, len(rows))
	for _, r := range rows {
		resourceID := str(r.ResourceID)
		if !rules.machineCharge(resourceID, str(r.MeterCategory)) {
			continue
		}
		lines = append(lines, vmLine{
			name:       str(r.ResourceName),
			group:      str(r.ResourceGroup),
			tags:       str(r.Tags),
			category:   str(r.MeterCategory),
			resourceID: resourceID,
			month:      monthOf(r.periodEnd),
			sku:        additionalInfoValue(r.AdditionalInfo, rules.SKUKey),
			cost:       cost(r),
		})
	}
	if len(lines) == 0 {
		return buildPivot(nil, nil, longMonth, nil), nil
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].month.Before(lines[j].month) })

	lines = collapsePrefixes(lines, rules)
	lastTagsPerResource(lines)

	tagCols := make([]string, len(rules.Tags))
	for i, t := range rules.Tags {
		tagCols[i] = t.Column
	}

	for i := range lines {
		l := &lines[i]
		parsed := scanTags(l.tags)
		l.dims = make([]string, len(rules.Tags))
		for j, t := range rules.Tags {
			l.dims[j] = parsed[t.Key]
		}

		switch resourceType(l.resourceID) {
		case resourceTypeVM:
			l.vmName = l.name
		case resourceTypeDisk:
			l.vmName = parsed[rules.DiskVMTag]
		}
		if l.prefix != nil {
			l.vmName = l.prefix.Label
		}

		category, err := rules.Categorize(l.resourceID, l.category)
		if err != nil {
			return nil, err
		}
		l.category = category
		l.group = strings.ToUpper(l.group)
		l.vmName = strings.ToUpper(l.vmName)
	}

	fillModes(lines, len(rules.Tags))

	facts := make([]fact, 0, len(lines))
	for _, l := range lines {
		row := []string{dash(l.vmName), dash(l.group)}
		for _, d := range l.dims {
			row = append(row, dash(d))
		}
		row = append(row, dash(l.sku))
		facts = append(facts, fact{row: row, month: l.month, sub: l.category, cost: l.cost})
	}

	rowDims := append([]string{"vm_name", "resource_group"}, tagCols...)
	rowDims = append(rowDims, "vm_sku")
	return buildPivot(rowDims, []string{"month", "meter_category"}, longMonth, facts), nil
}

// collapsePrefixes replaces the lines of each prefix rule with one line per
// month carrying the last line's attributes and the summed cost
func collapsePrefixes(lines []vmLine, rules VMRules) []vmLine {
	type key struct {
		rule  int
		month time.Time
	}
	kept := make([]vmLine, 0, len(lines))
	index := make(map[key]int)
	collapsed := make([][]vmLine, len(rules.Prefixes))
	for _, l := range lines {
		i, ok := rules.prefixRule(l.name)
		if !ok {
			kept = append(kept, l)
			continue
		}
		k := key{i, l.month}
		if j, seen := index[k]; seen {
			l.cost += collapsed[i][j].cost
			collapsed[i][j] = l
		} else {
			index[k] = len(collapsed[i])
			collapsed[i] = append(collapsed[i], l)
		}
		collapsed[i][index[k]].prefix = &rules.Prefixes[i]
	}
	for _, c := range collapsed {
		kept = append(kept, c...)
	}
	return kept
}

// lastTagsPerResource gives every line the last tags seen for its resource
// and month
func lastTagsPerResource(lines []vmLine) {
	type key struct {
		name, group string
		month       time.Time
	}
	last := make(map[key]string)
	for _, l := range lines {
		last[key{l.name, l.group, l.month}] = l.tags
	}
	for i := range lines {
		lines[i].tags = last[key{lines[i].name, lines[i].group, lines[i].month}]
	}
}

// fillModes sets the machine size and owner of each machine to their most
// frequent value across its lines
func fillModes(lines []vmLine, tagCount int) {
	type key struct{ vm, group, description string }
	keyOf := func(l vmLine) key {
		k := key{vm: l.vmName, group: l.group}
		if tagCount > 0 {
			k.description = l.dims[0]
		}
		return k
	}

	skus := make(map[key][]string)
	owners := make(map[key][]string)
	for _, l := range lines {
		k := keyOf(l)
		skus[k] = append(skus[k], l.sku)
		if tagCount > 1 {
			owners[k] = append(owners[k], l.dims[tagCount-1])
		}
	}
	for i := range lines {
		k := keyOf(lines[i])
		lines[i].sku = mode(skus[k])
		if tagCount > 1 {
			lines[i].dims[tagCount-1] = mode(owners[k])
		}
	}
}

// mode returns the most frequent non-empty value, the smallest on ties
func mode(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		if v != "" {
			counts[v]++
		}
	}
	best, bestN := "", 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
