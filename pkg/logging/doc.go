// Package logging provides a structured logging system for tssc-test with
// subsystem-tagged output and level filtering.
//
// This package is built on Go's standard slog package. Every log entry
// carries a timestamp, a level, a subsystem identifier and an optional
// error. Subsystems identify the originating concern, for example
// "Orchestrator", "Coordinator", "Git", "CI", "CD" or "TestPlan".
//
// Initialization happens once at startup:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "Harness starting up")
//	logging.Error("Git", err, "Failed to commit to %s", repo)
//
// InitForCLI also initializes the controller-runtime global logger, so that
// Kubernetes client operations against Tekton and Argo CD resources log
// through the same handler.
//
// The logging system is safe for concurrent use from multiple worker
// goroutines.
package logging
