package costquery

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
)

// timePeriodLayout is the microsecond ISO-8601 form the query API expects
const timePeriodLayout = "2006-01-02T15:04:05.000000Z"

// Grouping dimensions requested for every cost query
var groupingDimensions = []string{
	"SubscriptionId",
	"ChargeType",
	"ServiceName",
	"ServiceTier",
	"Meter",
	"PartNumber",
	"BillingMonth",
	"ResourceId",
	"ResourceType",
}

type queryDefinition struct {
	Type       armcostmanagement.ExportType    `json:"type"`
	Timeframe  armcostmanagement.TimeframeType `json:"timeframe"`
	TimePeriod queryTimePeriod                 `json:"timePeriod"`
	Dataset    queryDataset                    `json:"dataset"`
}

type queryTimePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type queryDataset struct {
	Granularity armcostmanagement.GranularityType `json:"granularity"`
	Aggregation map[string]queryAggregation       `json:"aggregation"`
	Grouping    []queryGrouping                   `json:"grouping"`
}

type queryAggregation struct {
	Name     string                         `json:"name"`
	Function armcostmanagement.FunctionType `json:"function"`
}

type queryGrouping struct {
	Type armcostmanagement.QueryColumnType `json:"type"`
	Name string                            `json:"name"`
}

// buildQuery returns the daily, summed, grouped actual-cost query for a window
func buildQuery(start, end time.Time) queryDefinition {
	dimension := armcostmanagement.QueryColumnType("Dimension")
	grouping := make([]queryGrouping, 0, len(groupingDimensions))
	for _, name := range groupingDimensions {
		grouping = append(grouping, queryGrouping{Type: dimension, Name: name})
	}

	return queryDefinition{
		Type:      armcostmanagement.ExportTypeActualCost,
		Timeframe: armcostmanagement.TimeframeTypeCustom,
		TimePeriod: queryTimePeriod{
			From: start.UTC().Format(timePeriodLayout),
			To:   end.UTC().Format(timePeriodLayout),
		},
		Dataset: queryDataset{
			Granularity: armcostmanagement.GranularityTypeDaily,
			Aggregation: map[string]queryAggregation{
				"totalCost": {Name: "CostUSD", Function: armcostmanagement.FunctionTypeSum},
			},
			Grouping: grouping,
		},
	}
}
