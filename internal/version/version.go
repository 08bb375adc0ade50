// Package version хранит сведения о сборке. Значения проставляются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/shopcore/internal/version.version=1.4.0 ..."
package version

import (
	"fmt"
	"runtime"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о собранном бинаре.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

func Current() Build {
	return Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
}

func (b Build) String() string {
	return fmt.Sprintf("shopcore %s (commit %s, built %s, %s)", b.Version, b.Commit, b.Date, b.GoVersion)
}

// GetVersion — версия для health-ответов и стартового лога.
func GetVersion() string { return version }
