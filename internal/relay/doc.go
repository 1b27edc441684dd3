// ABOUTME: Package documentation for the chat relay client.
// ABOUTME: Describes the webhook contract and retry behavior.

// Package relay delivers chat turns to an external automation service over
// a plain JSON webhook.
//
// The webhook URL and timeout come from the application settings at request
// time, so admins can repoint the relay without a restart. Server faults
// and network errors are retried a bounded number of times with doubling
// backoff; client errors are not, since replaying a rejected payload cannot
// succeed. Caller cancellation is reported as ErrCanceled rather than a
// generic failure so the chat UI can tell an aborted send from a broken one.
package relay
