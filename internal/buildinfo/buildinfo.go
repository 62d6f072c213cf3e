/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package buildinfo reports the version of the concurrency limiter module compiled into the binary.
package buildinfo

import (
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ModulePath is the path of the concurrency limiter module.
const ModulePath = "github.com/acronis/go-concurrencylimit"

const unknownVersion = "v0.0.0"

var (
	version     string
	versionOnce sync.Once
)

// Version returns the version of the module.
// It's taken from the main module when the limiter itself is built, or from dependencies when it's embedded.
func Version() string {
	versionOnce.Do(func() {
		if info, ok := debug.ReadBuildInfo(); ok {
			version = extractVersion(info, ModulePath)
		}
		if version == "" {
			version = unknownVersion
		}
	})
	return version
}

// extractVersion accepts "modPath" and "modPath/vN" module paths.
// The "(devel)" version of a locally built main module is treated as unknown.
func extractVersion(info *debug.BuildInfo, modPath string) string {
	if info == nil {
		return ""
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(modPath) + `(/v[0-9]+)?$`)
	if re.MatchString(info.Main.Path) && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}

// NewCollector returns a gauge that is always 1 and carries the version in the "version" label.
func NewCollector(namespace string) prometheus.Collector {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information of the concurrency limiter.",
		ConstLabels: prometheus.Labels{"version": Version()},
	})
	g.Set(1)
	return g
}
