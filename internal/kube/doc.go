// Package kube builds the kubectl and helm invocations storefleet issues and
// renders the small typed manifests it applies through stdin.
//
// Nothing in this package talks to a cluster. Commands are plain
// invoker.Command values; executing them is the invoker's job.
package kube
