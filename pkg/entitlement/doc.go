// Package entitlement decides, for every request to a metered AI feature,
// whether the requesting user may proceed. The decision reconciles the user's
// subscription snapshot (tier, status, trial window) with a single
// authoritative per-tier quota catalog and the user's usage for the current
// calendar day.
//
// The package is a library-level component: it is invoked in-process by the
// web layer and has no wire protocol or CLI surface of its own. The public
// entry point is Gate, which composes the Resolver, Catalog and Meter:
//
//	gate, err := entitlement.NewGate(store, store, entitlement.Config{})
//	access := gate.CheckAccess(ctx, userID, entitlement.FeatureAIChat)
//	if access.HasAccess {
//		// ... perform the AI operation ...
//		gate.TrackUsage(ctx, userID, entitlement.FeatureAIChat)
//	}
//
// Correctness under concurrent requests from the same user relies on the
// UsageStore performing the limit check and the increment as one atomic
// operation at the storage layer. Adapters for Postgres, Redis, Firestore and
// an in-memory store live under storage/.
package entitlement
