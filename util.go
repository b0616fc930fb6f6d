package isles

import "github.com/google/uuid"

// newIdentifier returns a fresh random identifier, used whenever an Isle or
// Packet is constructed without an explicit one.
func newIdentifier() string {
	return uuid.New().String()
}
