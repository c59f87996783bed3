// Package internal contains the implementation packages of the breach CLI.
//
// # Package Organization
//
//   - parser: splits a .breach file into language-tagged sections
//   - compiler: per-language compilers behind one registry, with an LRU cache
//   - build: snapshots, the artifact store and the build orchestrator
//   - watcher: debounced change detection for the source file
//   - websocket: the live-reload hub and its sessions
//   - server: HTTP routes and the wiring of all of the above
//   - config, logging, errors, version: ambient support
//
// # Data Flow
//
//	watcher -> build orchestrator -> parser -> compiler registry
//	        -> artifact store -> live-reload hub -> browsers
//
// HTTP handlers read only the current snapshot of the artifact store. A
// snapshot is never modified after it is published, so a request never
// observes a half-built state and never waits for a build.
package internal
