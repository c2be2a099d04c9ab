// Package plugin implements the process-wide plugin registry: discovery of
// capability providers, contract validation, lazy singleton instantiation
// and lifecycle management.
package plugin

import (
	"fmt"

	"quackcore/pkg/capability"
)

// State represents the lifecycle position of a registered plugin.
type State string

const (
	// StateUninitialized means the descriptor is known but no instance exists.
	StateUninitialized State = "uninitialized"
	// StateActive means the instance passed validation and is usable.
	StateActive State = "active"
	// StateFailed means instantiation or validation failed; the failure is
	// cached until an explicit reload.
	StateFailed State = "failed"
	// StateClosed means the instance was shut down and must not be handed out.
	StateClosed State = "closed"
)

// Descriptor is the immutable metadata record produced at discovery time.
type Descriptor struct {
	// Name is unique within a kind.
	Name string
	// Kind is the capability category the plugin provides.
	Kind capability.Kind
	// Version is the plugin's own semantic version.
	Version string
	// Contract is the capability contract revision the plugin declares.
	// Empty means the current revision.
	Contract string
	// Capabilities are the tags the plugin claims to implement.
	Capabilities []capability.Tag
	// Factory constructs a fresh instance. It must not block.
	Factory capability.Factory
}

func (d Descriptor) key() string {
	return entryKey(d.Kind, d.Name)
}

func entryKey(kind capability.Kind, name string) string {
	return fmt.Sprintf("%s/%s", kind, name)
}

// Info is a snapshot of a registry entry for introspection.
type Info struct {
	Descriptor Descriptor
	State      State
	Err        error
}
