// Package value defines the values that flow through plans.
//
// This package contains type definitions only and imports nothing internal.
// Every other internal package builds on it.
//
// Key design constraints:
//   - Unknown is a first-class value, never a nil or zero stand-in
//   - Truth is three-valued (Bool3); only a known Bool is true or false
//   - Node states, outcomes, failure types and command handles are values
//     so conditions can compare against them
package value
