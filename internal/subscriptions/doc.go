// Package subscriptions mirrors the Azure subscriptions visible to the
// configured credential into the store.
package subscriptions
