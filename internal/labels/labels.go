// Package labels provides the labels storefleet puts on every cluster object it
// creates, so that a store's resources can be found and reconciled by selector.
package labels

// Standard label keys.
const (
	// KeyStore identifies which store an object belongs to
	KeyStore = "storefleet.io/store"

	// KeyEngine identifies the e-commerce engine backing the store
	KeyEngine = "storefleet.io/engine"

	// KeyManagedBy is the well-known Kubernetes managed-by label
	KeyManagedBy = "app.kubernetes.io/managed-by"
)

// ManagedBy is the value of KeyManagedBy on every object storefleet creates.
const ManagedBy = "storefleet"

// Builder provides a fluent interface for building object labels.
type Builder struct {
	labels map[string]string
}

// For creates a builder with the store and managed-by labels pre-set.
func For(store string) *Builder {
	return &Builder{
		labels: map[string]string{
			KeyStore:     store,
			KeyManagedBy: ManagedBy,
		},
	}
}

// WithEngine adds the engine label.
func (b *Builder) WithEngine(engine string) *Builder {
	if engine != "" {
		b.labels[KeyEngine] = engine
	}
	return b
}

// Merge adds all labels from the provided map.
func (b *Builder) Merge(extra map[string]string) *Builder {
	for k, v := range extra {
		b.labels[k] = v
	}
	return b
}

// Build returns a copy of the labels map.
func (b *Builder) Build() map[string]string {
	result := make(map[string]string, len(b.labels))
	for k, v := range b.labels {
		result[k] = v
	}
	return result
}

// SelectorForStore returns a label selector matching every object of a store.
func SelectorForStore(store string) string {
	return KeyStore + "=" + store
}
