package api

import (
	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

// ReachabilityService is the part of reachmgr.Service the API depends on.
type ReachabilityService interface {
	Snapshot() []reachmgr.TargetStatus
	Get(t reachability.Target) (reachmgr.TargetStatus, bool)
	AddTarget(t reachability.Target) (reachmgr.TargetStatus, error)
	RemoveTarget(t reachability.Target) error
	Subscribe() (<-chan reachmgr.StatusEvent, func())
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type VersionInfo struct {
	Version    string `json:"version"`
	CommitHash string `json:"commitHash"`
	BuildTime  string `json:"buildTime"`
}
