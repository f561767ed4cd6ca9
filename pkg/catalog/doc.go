// Package catalog manages the house plan catalog: plans and their tier
// prices, downloadable plan files kept in blob storage, buyer reviews and
// saved favorites.
//
// Public reads go through an optional two-level PlanCache. Every write that
// changes what a public reader could see invalidates it.
//
// Unpublished plans are only returned when the caller asks for them, which
// the API does for admins alone.
package catalog
