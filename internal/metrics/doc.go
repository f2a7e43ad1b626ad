// Package metrics provides the build and preview metrics of simbuild.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	orch := build.NewOrchestrator(gw, cfg, build.WithRecorder(recorder))
//
// The CLI serves the registry through HTTPHandler when metrics are enabled.
package metrics
