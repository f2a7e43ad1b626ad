// Package simulator is the entry point used by the CLI and any editor
// integration. A Manager admits at most one build at a time across all open
// projects, runs the container pipeline, serves the extracted bundle and keeps
// each project's observable state current.
package simulator
