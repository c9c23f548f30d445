// Package storage persists the orchestration core's durable state: job
// definitions, run history, notification endpoints and user-endpoint
// assignments. The default driver is sqlite (single file, WAL); a memory
// driver exists for tests. The core only ever talks to the Store interface.
package storage
