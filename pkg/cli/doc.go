// Package cli implements storefront-admin, the operator command line for the
// storefront.
//
// # Overview
//
// Every command opens the same configuration the API server uses (SAK_*
// environment variables or SAK_CONFIG_FILE), does one job against the
// database and exits. Commands are built with cobra.
//
// # Commands
//
// migrate: apply pending schema migrations and print the schema version
//
//	storefront-admin migrate
//
// plans import: create or update plans from a YAML manifest. Entries with a
// slug update the existing plan of that slug; others are created.
//
//	storefront-admin plans import ./catalog.yaml
//
// plans list: print the catalog
//
//	storefront-admin plans list --category duplex --all
//
// profiles grant-admin / revoke-admin: change a profile's role by email.
// The user must have signed in at least once.
//
//	storefront-admin profiles grant-admin ops@example.com
//
// orders reconcile: ask the provider about a payment reference and fulfill
// the order if it was paid. A payment the provider has not settled yet is
// reported and the order left pending. Used when both the callback and the
// webhook were lost.
//
//	storefront-admin orders reconcile paystack sak_0f1e2d3c
//
// # Testing
//
// NewRootCommand takes an Opener so tests can point commands at a temporary
// database and stub payment providers.
package cli
