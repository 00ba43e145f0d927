package main

import (
	"fmt"
	"os"
	"path/filepath"

	"sourcepm/internal/cache"
	"sourcepm/internal/config"
	"sourcepm/internal/pipeline"
	"sourcepm/internal/privexec"
	"sourcepm/internal/sandbox"
)

// sandboxExecutor adapts a shared *privexec.Executor into pipeline.Executor,
// rooting every package's sandbox under the configured sandbox directory
// with an unbounded quota (spec leaves the quota operator-configurable;
// 0 means unlimited per internal/sandbox.CheckQuota).
type sandboxExecutor struct {
	base  string
	exec  *privexec.Executor
	quota int64
}

func (s *sandboxExecutor) NewSandbox(name string) *sandbox.Sandbox {
	return sandbox.New(s.base, name, s.quota, s.exec)
}

// newPipeline wires the Build Pipeline from the shared app components.
func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	c, err := cache.New(a.cfg.ArtifactDir, config.GetCacheSizeLimit())
	if err != nil {
		return nil, fmt.Errorf("open artifact cache: %w", err)
	}

	outputDir := filepath.Join(a.cfg.HomeDir, "build-output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create build output directory: %w", err)
	}

	exec := &sandboxExecutor{base: a.cfg.SandboxDir, exec: a.executor}
	return pipeline.New(a.index, c, a.hooksD, exec, outputDir), nil
}
