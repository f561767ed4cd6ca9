// Package payments takes buyers through hosted checkout with Stripe or
// Paystack and turns verified payments into completed orders.
//
// A payment outcome can arrive three ways: the browser callback after
// checkout, an authenticated verify call from the frontend, or a vendor
// webhook. All three end in Service.Fulfill, which is idempotent per
// (provider, reference), so any of them may arrive first or more than once.
//
// Fulfill never trusts the callback: the paid amount and currency are
// checked against the pending order, or against the plan's tier price when
// the webhook beats the order record.
package payments
