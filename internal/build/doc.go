// Package build runs the simulator build pipeline against the shared docker
// volume: Setup (full or incremental), Build and Extract.
//
// The Orchestrator owns the cached ProjectInfo of the last successful setup,
// which gates incremental setups. All container work goes through a
// container.Gateway and every phase checks the runner registry's abort flag
// before it starts, failing with an error that matches foundation ErrAborted.
package build
