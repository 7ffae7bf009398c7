// Package workflow defines the ordered provisioning steps for each supported
// e-commerce engine and the runner that executes them. Every step carries a
// policy: a Fatal step that fails stops the workflow, a BestEffort step that
// fails is reported and skipped over.
package workflow
