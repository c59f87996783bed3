// Package cmd provides the command-line interface for breach.
//
// # Available Commands
//
//   - serve: Serve a .breach file with live reload
//   - build: Run one build and optionally write the artifacts to a directory
//   - config show: Print the resolved configuration as YAML
//   - version: Show build information
//
// # Examples
//
//	breach serve                     # first *.breach file in the working directory
//	breach serve page.breach -p 3000 --open
//	breach build page.breach --out dist
//	BREACH_BUILD_MINIFY=true breach build --out dist
//
// Configuration is resolved from flags, BREACH_* environment variables, a
// .env file, .breach.yml (or --config, or BREACH_CONFIG_FILE) and defaults,
// in that order.
package cmd
