// Package orchestrator owns the store lifecycle. Create records a store and
// runs its engine workflow in the background, moving the record from
// Provisioning to exactly one of Ready or Failed. Delete tears the store's
// workload and namespace down best-effort and removes the record. Progress is
// persisted as events and fanned out live through an EventBroker.
package orchestrator
