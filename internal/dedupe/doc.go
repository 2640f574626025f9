// Package dedupe provides short-lived key reservations.
//
// The database uses them to make character creation atomic from the
// caller's point of view: a name is reserved before the create task is
// queued and released once the worker has applied (or failed) it, so two
// concurrent creates of the same name cannot both pass the duplicate check.
package dedupe
