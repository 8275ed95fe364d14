// Package billing is the application service that ties the plan catalog,
// payment gateways, subscription ledger and usage gate together.
//
// It owns the flows that cross those packages: checkout sessions, direct
// payments, refunds, subscription cancel and resume, and webhook intake.
// Webhooks are verified by the gateway, deduplicated per gateway and event
// id, applied to the ledger and counted. Events that cannot be matched to
// local state are acknowledged and raised through a Notifier, which in
// production enqueues asynq tasks.
package billing
