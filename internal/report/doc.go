// Package report turns imported report rows into pivot tables.
//
// Four reports exist: summary (subscription by month and publisher type),
// services (meter by month), marketplaces (publisher plan by month) and
// virtualmachines (machine by month and category). Every table ends with a
// Grand Total row and column. The virtual machine report applies VMRules,
// a table of category, prefix and tag rules that configuration may override.
package report
