package model

import (
	"slices"
	"time"
)

// Store status constants.
const (
	StatusProvisioning = "Provisioning"
	StatusReady        = "Ready"
	StatusFailed       = "Failed"
)

// Engine constants.
const (
	EngineWooCommerce = "woocommerce"
	EngineMedusa      = "medusa"
)

// DefaultAdminUser is the administrator account created for every store.
const DefaultAdminUser = "admin"

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry.
var validTransitions = map[string]map[string]bool{
	StatusProvisioning: {
		StatusReady:  true,
		StatusFailed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TransitionSources returns the statuses that may transition to status, in
// sorted order.
func TransitionSources(to string) []string {
	var from []string
	for f, targets := range validTransitions {
		if targets[to] {
			from = append(from, f)
		}
	}
	slices.Sort(from)
	return from
}

// IsTerminal reports whether status is Ready or Failed.
func IsTerminal(status string) bool {
	return status == StatusReady || status == StatusFailed
}

// Store is a provisioned e-commerce instance. URL and credentials are fixed at
// creation and never rewritten.
type Store struct {
	Name          string    `json:"name"`
	Namespace     string    `json:"namespace"`
	Engine        string    `json:"engine"`
	Status        string    `json:"status"`
	URL           string    `json:"url"`
	AdminUser     string    `json:"adminUser"`
	AdminPassword string    `json:"adminPassword"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Event kind constants.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventSkipped   = "skipped"
	EventFinished  = "finished"
)

// Event is one persisted provisioning progress line for a store.
type Event struct {
	ID        int64     `json:"id"`
	Store     string    `json:"store"`
	Seq       int       `json:"seq"`
	Step      string    `json:"step,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
