// Package id provides identifier generation for mock server definitions.
//
// Servers and endpoints loaded from definition files may omit their id; the
// loader fills the gap with one of the formats below:
//
//   - UUID: random RFC 4122 identifiers
//   - Short: 16 hex characters, used for endpoints where brevity matters
//   - Prefixed: a readable prefix plus a short random suffix ("srv-1a2b3c4d")
package id
