// Package session orchestrates the lifecycle of agent conversations.
//
// # Overview
//
// A Session binds one chat thread to one live agent process. The Registry
// owns every live session, keyed by the composite id platformID:threadID,
// plus a secondary index from outstanding post ids so emoji reactions route
// back to the prompt that posted them. The lifecycle controller behind the
// registry launches processes, consumes their event streams, and classifies
// every exit.
//
// # Admission control
//
// Start is subject to a hard concurrency cap. Past the cap it is rejected
// synchronously with ErrSessionLimit; nothing is queued or retried.
//
// # Exit classification
//
// When a process exits the controller evaluates, in strict order:
//
//  1. intentional restart: a replacement process is coming, no cleanup
//  2. global shutdown: drop from memory only, shutdown already persisted
//  3. interrupted: preserved for resume if the agent responded, else dropped
//  4. exited before any response, not a resume: dropped without persisting
//  5. resumed exit with non-zero code: permanent-failure verdict, else
//     bounded retry via resumeFailCount
//  6. normal exit: flush remaining output, unpersist on code zero, otherwise
//     keep the record for a manual retry
//
// # Cleanup
//
// The Cleaner sweeps on a fixed interval. Idle sessions past the timeout get
// a notice and are killed without unpersisting, so a later message in the
// thread resumes them. Sessions inside the warning window get one warning
// per idle stretch.
package session
