// Package domain holds the campaign aggregate, its sub-collection entities,
// and the pure state transitions the sync engine applies to them: structural
// sanitation, the map action reducer, and the membership state machine.
package domain
