// Package authcore is the session and refresh-token lifecycle engine: it
// issues short-lived JWT access tokens paired with long-lived signed refresh
// envelopes, rotates the refresh credential atomically on every use, detects
// replay of already-rotated credentials, and revokes every session of a
// subject when replay is seen.
//
// The engine holds no in-process locks; all mutual exclusion lives in the
// session store's atomic primitive (a conditional UPDATE for the Postgres
// aggregate backend, a WATCH/MULTI compare-and-swap for the Redis keyed
// backend), so any number of processes may share one backend. [Engine]
// methods are safe for concurrent use after [Builder.Build].
//
// The backend is chosen once at startup through [Builder.WithSessionStore];
// nothing branches on backends per call.
package authcore
