// Package costquery pulls grouped daily actual costs per subscription from the
// Cost Management query API.
//
// Windows longer than 365 days are rejected; YearlyRanges splits them into
// pieces the API accepts. Each page is upserted as soon as it is decoded, so
// memory stays bounded by one page.
package costquery
