package model

// DeploymentStrategy describes how a backend should roll a DeployableService
// out relative to any currently running instance of the same service.
type DeploymentStrategy int

const (
	// StrategyRecreate tears down the existing workload before starting
	// the new one; used when image/env/files changed.
	StrategyRecreate DeploymentStrategy = iota
	// StrategyNoop means the existing workload already matches and needs
	// no change.
	StrategyNoop
)

// DeployableService is a ServiceConfig enriched with everything the
// deployment unit builder resolved: declared volumes from the image config,
// the effective ingress route, and the strategy the backend should use.
type DeployableService struct {
	ServiceConfig

	DeclaredVolumes []string
	Route           RouterConfig
	Strategy        DeploymentStrategy
}
