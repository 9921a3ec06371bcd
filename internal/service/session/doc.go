// Package session implements the tracking session lifecycle: creating a
// session per sent email, recording opens and clicks against it, and
// reconciling two replicas of the session mapping.
//
// The service depends on the Store interface defined in repository.go and
// on the Enricher and Notifier boundaries in interfaces.go. It never imports
// net/http or a storage driver directly.
//
// Every mutation goes through Store.Update so concurrent recordings against
// the same id are serialized by the store and no append is lost.
package session
