package store

import (
	"time"

	"gorm.io/datatypes"
)

// Subscription is the root entity every other row hangs off
type Subscription struct {
	SubscriptionID      string         `gorm:"primaryKey;size:36" json:"subscriptionId"`
	ResourcePath        string         `gorm:"size:128;not null;uniqueIndex" json:"id"`
	DisplayName         string         `gorm:"size:255" json:"displayName"`
	State               string         `gorm:"size:32" json:"state"`
	TenantID            string         `gorm:"size:36" json:"tenantId"`
	AuthorizationSource string         `gorm:"size:64" json:"authorizationSource"`
	Policies            datatypes.JSON `json:"subscriptionPolicies"`
	CreatedAt           time.Time      `json:"-"`
	UpdatedAt           time.Time      `json:"-"`

	CostFacts    []CostFact    `gorm:"foreignKey:SubscriptionID;references:SubscriptionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	ExportRuns   []ExportRun   `gorm:"foreignKey:SubscriptionID;references:SubscriptionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	ReportRows   []ReportRow   `gorm:"foreignKey:SubscriptionID;references:SubscriptionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Marketplaces []Marketplace `gorm:"foreignKey:SubscriptionID;references:SubscriptionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

func (Subscription) TableName() string { return "subscriptions" }

// CostFact is one grouped daily cost line from the cost query API.
// (subscription, usage date, service name, resource, service tier, meter) is its natural key.
type CostFact struct {
	ID             uint64         `gorm:"primaryKey"`
	SubscriptionID string         `gorm:"size:36;not null;uniqueIndex:idx_cost_facts_natural,priority:1"`
	UsageDate      datatypes.Date `gorm:"not null;uniqueIndex:idx_cost_facts_natural,priority:2"`
	ServiceName    string         `gorm:"size:255;not null;default:'';uniqueIndex:idx_cost_facts_natural,priority:3"`
	ResourceID     string         `gorm:"size:512;not null;default:'';uniqueIndex:idx_cost_facts_natural,priority:4"`
	ServiceTier    string         `gorm:"size:255;not null;default:'';uniqueIndex:idx_cost_facts_natural,priority:5"`
	Meter          string         `gorm:"size:255;not null;default:'';uniqueIndex:idx_cost_facts_natural,priority:6"`
	ChargeType     string         `gorm:"size:64"`
	PartNumber     string         `gorm:"size:64"`
	BillingMonth   *datatypes.Date
	ResourceType   string  `gorm:"size:255"`
	Cost           float64 `gorm:"not null"`
	Currency       string  `gorm:"size:8"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CostFact) TableName() string { return "cost_facts" }

// CostFactConflictColumns is the natural key used as the upsert target
var CostFactConflictColumns = []string{"subscription_id", "usage_date", "service_name", "resource_id", "service_tier", "meter"}

// CostFactMutableColumns are refreshed when a natural key is seen again
var CostFactMutableColumns = []string{"charge_type", "part_number", "cost", "currency", "updated_at"}

// Execution statuses reported by the export run history
const (
	RunStatusQueued           = "Queued"
	RunStatusInProgress       = "InProgress"
	RunStatusCompleted        = "Completed"
	RunStatusFailed           = "Failed"
	RunStatusTimeout          = "Timeout"
	RunStatusDataNotAvailable = "DataNotAvailable"
)

// ExportRun is one execution of the subscription's scheduled export. Rows are
// append-only history.
type ExportRun struct {
	ID                string `gorm:"primaryKey;size:64"`
	SubscriptionID    string `gorm:"size:36;not null;uniqueIndex:idx_export_runs_reference,priority:1"`
	ExecReference     string `gorm:"size:512;not null;uniqueIndex:idx_export_runs_reference,priority:2"`
	ManifestPath      string `gorm:"size:1024"`
	ExecutionType     string `gorm:"size:32"`
	Status            string `gorm:"size:32;index"`
	SubmittedAt       *time.Time
	ProcessingStartAt *time.Time
	ProcessingEndAt   *time.Time
	ReportFrom        *time.Time `gorm:"index"`
	ReportTo          *time.Time `gorm:"index"`
	RunSettings       datatypes.JSON
	CreatedAt         time.Time

	ReportRows []ReportRow `gorm:"foreignKey:ExportRunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (ExportRun) TableName() string { return "export_runs" }

// ReportRow is one billed line item imported from an export CSV. Columns
// carry a csv tag with the normalized header they are filled from; headers
// without a matching field are dropped.
type ReportRow struct {
	ID             uint64 `gorm:"primaryKey"`
	ExportRunID    string `gorm:"size:64;not null;uniqueIndex:idx_report_rows_source,priority:1" validate:"required"`
	SubscriptionID string `gorm:"size:36;not null;index" validate:"required"`
	SourceBlob     string `gorm:"size:1024;not null;uniqueIndex:idx_report_rows_source,priority:2" validate:"required"`
	SourceLine     int    `gorm:"not null;uniqueIndex:idx_report_rows_source,priority:3" validate:"gt=0"`

	InvoiceID                    *string        `gorm:"size:64" csv:"invoice_id"`
	PreviousInvoiceID            *string        `gorm:"size:64" csv:"previous_invoice_id"`
	BillingAccountID             *string        `gorm:"size:255" csv:"billing_account_id"`
	BillingAccountName           *string        `gorm:"size:255" csv:"billing_account_name"`
	BillingProfileID             *string        `gorm:"size:255" csv:"billing_profile_id"`
	BillingProfileName           *string        `gorm:"size:255" csv:"billing_profile_name"`
	InvoiceSectionID             *string        `gorm:"size:255" csv:"invoice_section_id"`
	InvoiceSectionName           *string        `gorm:"size:255" csv:"invoice_section_name"`
	AccountName                  *string        `gorm:"size:255" csv:"account_name"`
	AccountOwnerID               *string        `gorm:"size:255" csv:"account_owner_id"`
	PartnerName                  *string        `gorm:"size:255" csv:"partner_name"`
	ResellerName                 *string        `gorm:"size:255" csv:"reseller_name"`
	CostCenter                   *string        `gorm:"size:255" csv:"cost_center"`
	BillingPeriodStartDate       *string        `gorm:"size:10;index" csv:"billing_period_start_date" validate:"omitempty,datetime=2006-01-02"`
	BillingPeriodEndDate         *string        `gorm:"size:10;index" csv:"billing_period_end_date" validate:"omitempty,datetime=2006-01-02"`
	Date                         *string        `gorm:"size:10;index" csv:"date" validate:"omitempty,datetime=2006-01-02"`
	ExchangeRateDate             *string        `gorm:"size:10" csv:"exchange_rate_date" validate:"omitempty,datetime=2006-01-02"`
	ServiceFamily                *string        `gorm:"size:255" csv:"service_family"`
	ProductOrderID               *string        `gorm:"size:255" csv:"product_order_id"`
	ProductOrderName             *string        `gorm:"size:255" csv:"product_order_name"`
	ConsumedService              *string        `gorm:"size:255" csv:"consumed_service"`
	MeterID                      *string        `gorm:"size:64" csv:"meter_id"`
	MeterName                    *string        `gorm:"size:255" csv:"meter_name"`
	MeterCategory                *string        `gorm:"size:255" csv:"meter_category"`
	MeterSubCategory             *string        `gorm:"size:255" csv:"meter_sub_category"`
	MeterRegion                  *string        `gorm:"size:255" csv:"meter_region"`
	ProductID                    *string        `gorm:"size:255" csv:"product_id"`
	ProductName                  *string        `gorm:"size:512" csv:"product_name"`
	SubscriptionName             *string        `gorm:"size:255" csv:"subscription_name"`
	PublisherType                *string        `gorm:"size:64" csv:"publisher_type"`
	PublisherID                  *string        `gorm:"size:255" csv:"publisher_id"`
	PublisherName                *string        `gorm:"size:255" csv:"publisher_name"`
	ResourceGroup                *string        `gorm:"size:255" csv:"resource_group"`
	ResourceID                   *string        `gorm:"size:1024" csv:"resource_id"`
	ResourceName                 *string        `gorm:"size:255" csv:"resource_name"`
	ResourceLocation             *string        `gorm:"size:64" csv:"resource_location"`
	Location                     *string        `gorm:"size:64" csv:"location"`
	EffectivePrice               *float64       `csv:"effective_price"`
	Quantity                     *float64       `csv:"quantity"`
	UnitOfMeasure                *string        `gorm:"size:64" csv:"unit_of_measure"`
	ChargeType                   *string        `gorm:"size:64" csv:"charge_type"`
	BillingCurrency              *string        `gorm:"size:8" csv:"billing_currency"`
	BillingCurrencyCode          *string        `gorm:"size:8" csv:"billing_currency_code"`
	PricingCurrency              *string        `gorm:"size:8" csv:"pricing_currency"`
	CostInBillingCurrency        *float64       `csv:"cost_in_billing_currency"`
	CostInPricingCurrency        *float64       `csv:"cost_in_pricing_currency"`
	CostInUSD                    *float64       `gorm:"column:cost_in_usd" csv:"cost_in_usd"`
	PaygCostInBillingCurrency    *float64       `csv:"payg_cost_in_billing_currency"`
	PaygCostInUSD                *float64       `gorm:"column:payg_cost_in_usd" csv:"payg_cost_in_usd"`
	ExchangeRatePricingToBilling *float64       `csv:"exchange_rate_pricing_to_billing"`
	IsAzureCreditEligible        *bool          `csv:"is_azure_credit_eligible"`
	ServiceInfo1                 *string        `gorm:"column:service_info1;size:512" csv:"service_info1"`
	ServiceInfo2                 *string        `gorm:"column:service_info2;size:512" csv:"service_info2"`
	AdditionalInfo               datatypes.JSON `csv:"additional_info"`
	Tags                         *string        `csv:"tags"`
	PayGPrice                    *float64       `gorm:"column:pay_g_price" csv:"pay_g_price"`
	UnitPrice                    *float64       `csv:"unit_price"`
	Frequency                    *string        `gorm:"size:32" csv:"frequency"`
	Term                         *string        `gorm:"size:32" csv:"term"`
	ReservationID                *string        `gorm:"size:255" csv:"reservation_id"`
	ReservationName              *string        `gorm:"size:255" csv:"reservation_name"`
	PricingModel                 *string        `gorm:"size:32" csv:"pricing_model"`
	OfferID                      *string        `gorm:"size:64" csv:"offer_id"`
	PlanName                     *string        `gorm:"size:255" csv:"plan_name"`
	PartNumber                   *string        `gorm:"size:64" csv:"part_number"`
	AvailabilityZone             *string        `gorm:"size:32" csv:"availability_zone"`
	CostAllocationRuleName       *string        `gorm:"size:255" csv:"cost_allocation_rule_name"`
	BenefitID                    *string        `gorm:"size:255" csv:"benefit_id"`
	BenefitName                  *string        `gorm:"size:255" csv:"benefit_name"`
	Provider                     *string        `gorm:"size:64" csv:"provider"`
	CustomerName                 *string        `gorm:"size:255" csv:"customer_name"`
	CustomerTenantID             *string        `gorm:"size:64" csv:"customer_tenant_id"`
	CreatedAt                    time.Time
}

func (ReportRow) TableName() string { return "report_rows" }

// ReportRowConflictColumns identify a line by its source position
var ReportRowConflictColumns = []string{"export_run_id", "source_blob", "source_line"}

// Marketplace is one marketplace charge for a billing period
type Marketplace struct {
	ID                uint64 `gorm:"primaryKey"`
	SubscriptionID    string `gorm:"size:36;not null;uniqueIndex:idx_marketplaces_source,priority:1"`
	SourceID          string `gorm:"size:1024;not null;uniqueIndex:idx_marketplaces_source,priority:2"`
	Name              string `gorm:"size:255"`
	Type              string `gorm:"size:128"`
	Tags              datatypes.JSON
	BillingPeriodID   string     `gorm:"size:255;index"`
	UsageStart        *time.Time `gorm:"index"`
	UsageEnd          *time.Time
	ResourceRate      float64
	OfferName         string `gorm:"size:255"`
	ResourceGroup     string `gorm:"size:255"`
	AdditionalInfo    datatypes.JSON
	OrderNumber       string `gorm:"size:128"`
	InstanceName      string `gorm:"size:512"`
	InstanceID        string `gorm:"size:1024"`
	Currency          string `gorm:"size:8"`
	ConsumedQuantity  float64
	UnitOfMeasure     string `gorm:"size:64"`
	PretaxCost        float64
	IsEstimated       bool
	MeterID           string `gorm:"size:64"`
	SubscriptionName  string `gorm:"size:255"`
	AccountName       string `gorm:"size:255"`
	DepartmentName    string `gorm:"size:255"`
	CostCenter        string `gorm:"size:255"`
	PublisherName     string `gorm:"size:255"`
	PlanName          string `gorm:"size:255"`
	IsRecurringCharge bool
	CreatedAt         time.Time
}

func (Marketplace) TableName() string { return "marketplaces" }

// MarketplaceConflictColumns identify a charge within a subscription
var MarketplaceConflictColumns = []string{"subscription_id", "source_id"}
