// Package logging provides the structured logging façade used across the
// application: a slog-backed, subsystem-tagged API for CLI output.
//
// Initialization:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("orchestrator", "applying task for %s", appName)
//	logging.Error("registry", err, "failed to resolve image %s", image)
//
// Every call takes a subsystem label (e.g. "queue", "hostmeta", "docker")
// so log lines can be grepped or filtered by component.
package logging
