// Package deployer implements the rolling deployer described by
// fleet/deployer.py: batched rollout with parallel file push per batch,
// sequential reload, a cancellable health-check poll gate, and
// auto-rollback on any batch failure.
package deployer
