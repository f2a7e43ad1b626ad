// Package state holds the in-memory simulator state: one ProjectState per
// open project and the process-wide build gate.
//
// Registry.StartBuild is the only way to begin a build. It admits one project
// at a time and marks every other tracked project as needing a clean build,
// because a build rewrites the shared volume. Observers call Subscribe to be
// told about changes instead of polling or parsing log text.
package state
