package runner

import "git.home.luguber.info/inful/simbuild/internal/buildlog"

// Sink is the per-call log destination.
type Sink = buildlog.Sink
