package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/koetjeengdjalanan/nilakandi/internal/config"
)

// ProviderType represents a billing provider
type ProviderType string

// Supported billing providers
const (
	ProviderAzure ProviderType = "azure"
)

// Endpoints builds Azure Resource Manager URLs for the billing APIs
type Endpoints struct {
	base                   string
	queryAPIVersion        string
	exportAPIVersion       string
	subscriptionAPIVersion string
	consumptionAPIVersion  string
	exportName             string
}

// NewEndpoints creates an endpoint builder from configuration
func NewEndpoints(cfg config.AzureConfig) Endpoints {
	return Endpoints{
		base:                   strings.TrimRight(cfg.ManagementURL, "/"),
		queryAPIVersion:        cfg.QueryAPIVersion,
		exportAPIVersion:       cfg.ExportAPIVersion,
		subscriptionAPIVersion: cfg.SubscriptionAPIVersion,
		consumptionAPIVersion:  cfg.ConsumptionAPIVersion,
		exportName:             cfg.ExportName,
	}
}

// SubscriptionScope is the resource path of a subscription
func SubscriptionScope(subscriptionID string) string {
	return "/subscriptions/" + subscriptionID
}

// ExportName is the fixed name of the per-subscription export job
func (e Endpoints) ExportName() string {
	return e.exportName
}

// CostQuery is the POST target of the cost query API for a scope
func (e Endpoints) CostQuery(scope string) string {
	return e.build(scope+"/providers/Microsoft.CostManagement/query", e.queryAPIVersion)
}

// Export is the PUT/GET target of the subscription's export job
func (e Endpoints) Export(scope string) string {
	return e.build(e.exportPath(scope), e.exportAPIVersion)
}

// ExportRunHistory lists the export job's executions
func (e Endpoints) ExportRunHistory(scope string) string {
	return e.build(e.exportPath(scope)+"/runHistory", e.exportAPIVersion)
}

// Subscriptions lists every subscription visible to the credential
func (e Endpoints) Subscriptions() string {
	return e.build("/subscriptions", e.subscriptionAPIVersion)
}

// Marketplaces lists marketplace charges of one billing period (YYYYMM)
func (e Endpoints) Marketplaces(subscriptionID, billingPeriod string) string {
	return e.build(fmt.Sprintf("%s/providers/Microsoft.Billing/billingPeriods/%s/providers/Microsoft.Consumption/marketplaces",
		SubscriptionScope(subscriptionID), billingPeriod), e.consumptionAPIVersion)
}

// StorageAccountID is the resource id of the export destination account
func StorageAccountID(scope, resourceGroup, account string) string {
	return fmt.Sprintf("%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s", scope, resourceGroup, account)
}

func (e Endpoints) exportPath(scope string) string {
	return scope + "/providers/Microsoft.CostManagement/exports/" + url.PathEscape(e.exportName)
}

func (e Endpoints) build(path, apiVersion string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.base + path + "?" + url.Values{"api-version": {apiVersion}}.Encode()
}
