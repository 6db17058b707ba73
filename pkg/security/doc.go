// Package security handles credential encryption, API key rotation,
// per-user model access control, and sensitive-field sanitization.
//
// Credentials are encrypted with AES-256-GCM under a key derived by
// hashing a process-wide secret; plaintext credentials never reach
// storage or logs. Access control is an in-memory grant set rebuilt from
// persistent storage at startup, with every mutation and every denial
// written to the audit trail.
package security
