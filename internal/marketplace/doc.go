// Package marketplace pulls Azure Marketplace charges per billing period.
package marketplace
