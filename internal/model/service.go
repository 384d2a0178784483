package model

import "time"

// ServiceStatus is the observed running state of a Service instance.
type ServiceStatus int

const (
	ServiceStatusRunning ServiceStatus = iota
	ServiceStatusPaused
)

func (s ServiceStatus) String() string {
	if s == ServiceStatusPaused {
		return "Paused"
	}
	return "Running"
}

// Service is one running instance observed from a backend: an identity, its
// current status, and the config it was deployed with.
type Service struct {
	ID            string
	ServiceName   string
	ContainerType ContainerType
	Status        ServiceStatus
	StartedAt     time.Time
	Config        ServiceConfig

	// EndpointURL is the address peers (or the crawler) can reach this
	// instance on, empty if the service exposes no routable port.
	EndpointURL string
}
