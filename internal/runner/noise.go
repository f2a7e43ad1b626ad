package runner

import (
	"regexp"
	"strings"
)

var noiseFragments = []string{
	"Found orphan containers",
	"Container docker-build-emscripten-build-run-",
	"Container ID:",
	"--remove-orphans flag",
	"cache:INFO",
}

var bareContainerID = regexp.MustCompile(`^[a-f0-9]{64}$`)

// IsNoise reports whether a stderr line is container runtime chatter that
// should not reach the user log.
func IsNoise(line string) bool {
	for _, f := range noiseFragments {
		if strings.Contains(line, f) {
			return true
		}
	}
	return bareContainerID.MatchString(strings.TrimSpace(line))
}
