package exports

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/provider"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Definition describes the export job wanted for one subscription
type Definition struct {
	SubscriptionID string
	// ScheduleStart and ScheduleEnd bound the daily recurrence. Zero values
	// mean now and one year from now.
	ScheduleStart time.Time
	ScheduleEnd   time.Time
	// ReportStart and ReportEnd bound the exported data. A zero ReportStart
	// means the first day of ReportEnd's month; a zero ReportEnd means now.
	ReportStart time.Time
	ReportEnd   time.Time
	// Scheduled activates the recurrence; otherwise the job is defined
	// inactive with a recurrence window of today.
	Scheduled bool
}

// Destination is the storage location exports are delivered to
type Destination struct {
	ResourceGroup  string
	StorageAccount string
	Container      string
	Description    string
}

// NewDestination reads the export destination from configuration
func NewDestination(cfg config.AzureConfig) Destination {
	return Destination{
		ResourceGroup:  cfg.StorageResourceGroup,
		StorageAccount: cfg.StorageAccount,
		Container:      cfg.StorageContainer,
		Description:    cfg.ExportDescription,
	}
}

// resolve fills zero times relative to now
func (d Definition) resolve(now time.Time) Definition {
	if d.ScheduleStart.IsZero() {
		d.ScheduleStart = now
	}
	if d.ScheduleEnd.IsZero() {
		d.ScheduleEnd = d.ScheduleStart.AddDate(1, 0, 0)
	}
	if d.ReportEnd.IsZero() {
		d.ReportEnd = now
	}
	if d.ReportStart.IsZero() {
		end := d.ReportEnd
		d.ReportStart = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
	}
	return d
}

// Validate checks the report window spans at most one month and neither
// window is reversed
func (d Definition) Validate() error {
	if d.SubscriptionID == "" {
		return &ingesterr.InvalidScheduleError{Reason: "subscription id is required"}
	}
	if d.ReportEnd.Before(d.ReportStart) {
		return &ingesterr.InvalidScheduleError{Reason: "report window ends before it starts"}
	}
	if d.ReportEnd.After(d.ReportStart.AddDate(0, 1, 0)) {
		return &ingesterr.InvalidScheduleError{Reason: "report window spans more than one month"}
	}
	if d.ScheduleEnd.Before(d.ScheduleStart) {
		return &ingesterr.InvalidScheduleError{Reason: "schedule window ends before it starts"}
	}
	return nil
}

type exportBody struct {
	Properties exportProperties `json:"properties"`
}

type exportProperties struct {
	Schedule              exportSchedule               `json:"schedule"`
	Format                armcostmanagement.FormatType `json:"format"`
	DeliveryInfo          exportDeliveryInfo           `json:"deliveryInfo"`
	Definition            exportDefinition             `json:"definition"`
	PartitionData         bool                         `json:"partitionData"`
	DataOverwriteBehavior string                       `json:"dataOverwriteBehavior"`
	ExportDescription     string                       `json:"exportDescription,omitempty"`
}

type exportSchedule struct {
	Status           armcostmanagement.StatusType     `json:"status"`
	Recurrence       armcostmanagement.RecurrenceType `json:"recurrence"`
	RecurrencePeriod timePeriod                       `json:"recurrencePeriod"`
}

type exportDeliveryInfo struct {
	Destination exportDestination `json:"destination"`
}

type exportDestination struct {
	ResourceID     string `json:"resourceId"`
	Container      string `json:"container"`
	RootFolderPath string `json:"rootFolderPath"`
}

type exportDefinition struct {
	Type       armcostmanagement.ExportType    `json:"type"`
	Timeframe  armcostmanagement.TimeframeType `json:"timeframe"`
	TimePeriod timePeriod                      `json:"timePeriod"`
	DataSet    exportDataSet                   `json:"dataSet"`
}

type exportDataSet struct {
	Granularity   armcostmanagement.GranularityType `json:"granularity"`
	Configuration map[string]any                    `json:"configuration"`
}

type timePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func period(from, to time.Time) timePeriod {
	return timePeriod{From: from.UTC().Format(timeLayout), To: to.UTC().Format(timeLayout)}
}

// buildBody renders the create-or-replace payload of a resolved definition
func buildBody(d Definition, dest Destination, now time.Time) exportBody {
	schedule := exportSchedule{
		Status:     armcostmanagement.StatusTypeActive,
		Recurrence: armcostmanagement.RecurrenceTypeDaily,
	}
	if d.Scheduled {
		schedule.RecurrencePeriod = period(d.ScheduleStart, d.ScheduleEnd)
	} else {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		schedule.Status = armcostmanagement.StatusTypeInactive
		schedule.RecurrencePeriod = period(today, today.Add(24*time.Hour-time.Microsecond))
	}

	scope := provider.SubscriptionScope(d.SubscriptionID)
	return exportBody{Properties: exportProperties{
		Schedule: schedule,
		Format:   armcostmanagement.FormatTypeCSV,
		DeliveryInfo: exportDeliveryInfo{Destination: exportDestination{
			ResourceID:     provider.StorageAccountID(scope, dest.ResourceGroup, dest.StorageAccount),
			Container:      dest.Container,
			RootFolderPath: d.SubscriptionID,
		}},
		Definition: exportDefinition{
			Type:       armcostmanagement.ExportTypeActualCost,
			Timeframe:  armcostmanagement.TimeframeTypeCustom,
			TimePeriod: period(d.ReportStart, d.ReportEnd),
			DataSet: exportDataSet{
				Granularity:   armcostmanagement.GranularityTypeDaily,
				Configuration: map[string]any{"dataVersion": nil},
			},
		},
		PartitionData:         true,
		DataOverwriteBehavior: "CreateNewReport",
		ExportDescription:     dest.Description,
	}}
}
