// SPDX-License-Identifier: MIT
package main

import (
	"fmt"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/solver"
)

// newEngine is the link seam for the PVT engine. The daemon deliberately
// carries no positioning mathematics of its own; a deployment provides an
// engine by assigning this hook from a companion file in this package.
var newEngine func(cfg config.Config) (solver.Engine, error)

// buildEngine resolves the engine hook. Startup fails fast when no engine is
// linked: a pipeline that can never solve is a misconfigured build, not a
// degraded run.
func buildEngine(cfg config.Config) (solver.Engine, error) {
	if newEngine == nil {
		return nil, fmt.Errorf("this build links no PVT engine; provide one via the newEngine hook")
	}
	return newEngine(cfg)
}
