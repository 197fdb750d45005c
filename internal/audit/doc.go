// Package audit implements async dispatching of audit entries and security events.
//
// # Components
//
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics
//     and a Flush barrier.
//   - Destinations are any auditlog.Appender (SQL store, JSON-lines mirror, Tee).
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which records to
// emit; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress records based on business logic.
//   - Import goGuard or any sibling internal package.
//   - Block the caller when DropIfFull is set.
package audit
