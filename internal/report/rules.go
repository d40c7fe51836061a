package report

import (
	"strings"

	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
)

const (
	resourceTypeVM   = "microsoft.compute/virtualmachines"
	resourceTypeDisk = "microsoft.compute/disks"
	vmMeterCategory  = "virtual machines"
)

// CategoryRule re-labels the meter category of a resource type. Rules are
// tried in order; Keywords empty matches every category.
type CategoryRule struct {
	ResourceType string
	Keywords     []string
	Category     string
}

// PrefixRule collapses resources whose name starts with Prefix into one
// synthetic machine named Label
type PrefixRule struct {
	Prefix string
	Label  string
}

// TagColumn extracts the value of a tag key into a report dimension
type TagColumn struct {
	Column string
	Key    string
}

// VMRules is the policy of the virtual machine report
type VMRules struct {
	Categories []CategoryRule
	Prefixes   []PrefixRule
	// Tags are extracted in order as the description, workstream, project
	// and owner dimensions
	Tags []TagColumn
	// DiskVMTag holds the name of the machine a disk is attached to
	DiskVMTag string
	// ExcludedCategories are dropped before aggregation
	ExcludedCategories []string
	// SKUKey is the additional info key holding the machine size
	SKUKey string
}

// DefaultVMRules returns the rule table used when nothing is configured
func DefaultVMRules() VMRules {
	return VMRules{
		Categories: []CategoryRule{
			{ResourceType: resourceTypeVM, Keywords: []string{"licenses"}, Category: "VM License"},
			{ResourceType: resourceTypeVM, Keywords: []string{"machines"}, Category: "VM Monthly"},
			{ResourceType: resourceTypeVM, Keywords: []string{"unassigned"}, Category: "Marketplace"},
			{ResourceType: resourceTypeVM, Keywords: []string{"storage"}, Category: "Storage Cost"},
			{ResourceType: resourceTypeVM, Keywords: []string{"network", "bandwidth"}, Category: "VM Connection"},
			{ResourceType: resourceTypeDisk, Category: "Storage Cost"},
		},
		Prefixes: []PrefixRule{
			{Prefix: "vba-", Label: "VBA Workers VM"},
			{Prefix: "veeam-proxy-appliance", Label: "veeam-proxy-appliance"},
		},
		Tags: []TagColumn{
			{Column: "description", Key: "Application Name"},
			{Column: "marvel_workstream", Key: "MARVEL_WORKSTREAM"},
			{Column: "marvel_project", Key: "MARVEL_PROJECT"},
			{Column: "pic_owner", Key: "PIC owner"},
		},
		DiskVMTag:          "VM Name",
		ExcludedCategories: []string{"Microsoft Defender for Cloud"},
		SKUKey:             "ServiceType",
	}
}

// RulesFromConfig applies configured overrides to the defaults. Prefixes are
// written "prefix=Label" or just "prefix"; tag keys replace the default keys
// position by position.
func RulesFromConfig(cfg config.ReportsConfig) VMRules {
	rules := DefaultVMRules()
	if len(cfg.VMPrefixes) > 0 {
		rules.Prefixes = rules.Prefixes[:0:0]
		for _, p := range cfg.VMPrefixes {
			prefix, label, ok := strings.Cut(p, "=")
			prefix = strings.TrimSpace(prefix)
			if prefix == "" {
				continue
			}
			if !ok || strings.TrimSpace(label) == "" {
				label = strings.TrimSuffix(prefix, "-")
			}
			rules.Prefixes = append(rules.Prefixes, PrefixRule{Prefix: prefix, Label: strings.TrimSpace(label)})
		}
	}
	for i, key := range cfg.VMTagKeys {
		if i >= len(rules.Tags) {
			break
		}
		if key = strings.TrimSpace(key); key != "" {
			rules.Tags[i].Key = key
		}
	}
	return rules
}

// resourceType returns the known resource type contained in a resource id
func resourceType(resourceID string) string {
	id := strings.ToLower(resourceID)
	switch {
	case strings.Contains(id, resourceTypeVM):
		return resourceTypeVM
	case strings.Contains(id, resourceTypeDisk):
		return resourceTypeDisk
	}
	return ""
}

// Categorize returns the report category of a meter category on a
// resource. Machine categories matching no keyword are kept as is; a
// resource of neither known type is a TaxonomyError.
func (r VMRules) Categorize(resourceID, meterCategory string) (string, error) {
	kind := resourceType(resourceID)
	if kind == "" {
		return "", &ingesterr.TaxonomyError{ResourceID: resourceID}
	}
	category := strings.ToLower(meterCategory)
	for _, rule := range r.Categories {
		if rule.ResourceType != kind {
			continue
		}
		if len(rule.Keywords) == 0 {
			return rule.Category, nil
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(category, kw) {
				return rule.Category, nil
			}
		}
	}
	return meterCategory, nil
}

// prefixRule returns the index of the first prefix rule matching a resource name
func (r VMRules) prefixRule(name string) (int, bool) {
	lower := strings.ToLower(name)
	for i, p := range r.Prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p.Prefix)) {
			return i, true
		}
	}
	return 0, false
}

// machineCharge reports whether a row belongs in the virtual machine report:
// a machine or disk resource, or a charge billed under a virtual machine
// meter category whatever its resource
func (r VMRules) machineCharge(resourceID, meterCategory string) bool {
	if r.excluded(meterCategory) {
		return false
	}
	if resourceType(resourceID) != "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(meterCategory), vmMeterCategory)
}

func (r VMRules) excluded(meterCategory string) bool {
	for _, c := range r.ExcludedCategories {
		if strings.EqualFold(c, meterCategory) {
			return true
		}
	}
	return false
}
