// Package usage counts gated resource consumption and enforces plan limits.
//
// A Tracker keeps two counters per user and resource kind: a period counter
// that restarts every billing month and an all-time counter that only grows.
// The monthly restart is lazy. Every tracker operation first compares the
// clock against the row's last reset time and, when a month or more has
// passed, zeroes all period counters together and moves the anchor forward by
// whole months. No background job is involved.
//
// A Gate combines the tracker with the user's active or trialing
// subscription and the plan catalog:
//
//	gate := usage.NewGate(ledger, catalog, usage.NewTracker(store),
//		usage.WithUpgradeURL("/pricing"),
//	)
//
//	d, err := gate.Consume(ctx, userID, usage.ResourceProjects, 1)
//	if err != nil {
//		return err
//	}
//	if !d.Allowed {
//		return render403(gate.Denial(d))
//	}
//
// Plan limits are looked up as "max_<kind>" then "<kind>". Storage is counted
// in megabytes and its ceiling comes from "storage_mb" or, failing that,
// "storage_gb" times 1024. A limit of -1 means unlimited; a kind the plan does
// not mention is not gated at all.
//
// Consume performs the check and the increment inside one per-user critical
// section of the Store, so concurrent requests cannot push a counter past its
// ceiling. Release hands units back when the gated action fails afterwards.
package usage
