// Package blobimport loads the CSV blobs of cost export runs into report rows.
//
// A run's manifest lists its blobs. Each blob with data is streamed to a
// scratch file while its MD5 is computed, checked against the stored
// Content-MD5, then read back in bounded chunks. Headers are normalized to
// snake case and matched against the report row schema; unknown columns are
// dropped. Every chunk is one insert-or-skip transaction keyed on the row's
// source position, so importing a blob again adds nothing.
package blobimport
