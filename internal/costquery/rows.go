package costquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/koetjeengdjalanan/nilakandi/internal/normalize"
	"github.com/koetjeengdjalanan/nilakandi/internal/store"
	"gorm.io/datatypes"
)

// buildColumnMap maps normalized column names to their indices
func buildColumnMap(columns []*armcostmanagement.QueryColumn) map[string]int {
	columnMap := make(map[string]int, len(columns))
	for i, col := range columns {
		if col != nil && col.Name != nil {
			columnMap[normalize.Header(*col.Name)] = i
		}
	}
	return columnMap
}

// getString extracts a string value from a row by column name
func getString(row []any, columnMap map[string]int, column string) string {
	idx, ok := columnMap[column]
	if !ok || idx >= len(row) || row[idx] == nil {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// parseCost extracts and converts a cost value to float64
func parseCost(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// parseUsageDate reads the API's numeric yyyymmdd usage date
func parseUsageDate(value any) (time.Time, error) {
	var digits string
	switch v := value.(type) {
	case float64:
		digits = strconv.FormatFloat(v, 'f', 0, 64)
	case int:
		digits = strconv.Itoa(v)
	case int64:
		digits = strconv.FormatInt(v, 10)
	case string:
		digits = extractDigits(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported usage date %v", value)
	}
	if len(digits) < 8 {
		return time.Time{}, fmt.Errorf("invalid usage date %q", digits)
	}
	return time.Parse("20060102", digits[:8])
}

// parseBillingMonth reads the ISO timestamp of the billing month dimension
func parseBillingMonth(value string) *datatypes.Date {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			d := datatypes.Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
			return &d
		}
	}
	return nil
}

// extractDigits extracts only digit characters from a string
func extractDigits(s string) string {
	var digits strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			digits.WriteRune(ch)
		}
	}
	return digits.String()
}

// toCostFacts converts the tabular page into cost facts for subscriptionID.
// Rows without a usable usage date are skipped and counted.
func toCostFacts(props *armcostmanagement.QueryProperties, subscriptionID string) ([]store.CostFact, int) {
	if props == nil || len(props.Rows) == 0 {
		return nil, 0
	}
	columnMap := buildColumnMap(props.Columns)
	dateIdx, hasDate := columnMap["usage_date"]
	costIdx, hasCost := columnMap["cost_usd"]
	if !hasDate || !hasCost {
		return nil, len(props.Rows)
	}

	facts := make([]store.CostFact, 0, len(props.Rows))
	skipped := 0
	for _, row := range props.Rows {
		if len(row) <= dateIdx || len(row) <= costIdx {
			skipped++
			continue
		}
		usage, err := parseUsageDate(row[dateIdx])
		if err != nil {
			skipped++
			continue
		}
		facts = append(facts, store.CostFact{
			SubscriptionID: subscriptionID,
			UsageDate:      datatypes.Date(usage),
			ServiceName:    getString(row, columnMap, "service_name"),
			ResourceID:     getString(row, columnMap, "resource_id"),
			ServiceTier:    getString(row, columnMap, "service_tier"),
			Meter:          getString(row, columnMap, "meter"),
			ChargeType:     getString(row, columnMap, "charge_type"),
			PartNumber:     getString(row, columnMap, "part_number"),
			BillingMonth:   parseBillingMonth(getString(row, columnMap, "billing_month")),
			ResourceType:   getString(row, columnMap, "resource_type"),
			Cost:           parseCost(row[costIdx]),
			Currency:       getString(row, columnMap, "currency"),
		})
	}
	return facts, skipped
}
