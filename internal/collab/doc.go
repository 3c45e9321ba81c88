// Package collab implements the collaboration core: who is viewing which
// workflow, what they are focused on, and the latest unsaved draft of each
// workflow.
//
// Inbound messages arrive through the Dispatcher, mutate PresenceTracker or
// DraftStore, and the resulting state is sent out through the Emitter.
// Depends on domain interfaces and a Transport, not on a concrete push backend.
package collab
