package reachmgr

import (
	"errors"
	"time"

	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

type EventType string

const (
	TargetAdded   EventType = "TARGET_ADDED"
	StatusChanged EventType = "STATUS_CHANGED"
	TargetRemoved EventType = "TARGET_REMOVED"
)

// AnyKey names the any-address target in keys and URLs.
const AnyKey = "_any"

var (
	ErrTargetExists   = errors.New("target already watched")
	ErrTargetNotFound = errors.New("target not watched")
	ErrClosed         = errors.New("reachability service closed")
)

// TargetStatus is the latest known state of one watched target. Observed is
// false until the first status has been delivered.
type TargetStatus struct {
	ID       string              `json:"id"`
	Target   string              `json:"target"`
	Status   reachability.Status `json:"status"`
	Flags    string              `json:"flags"`
	Observed bool                `json:"observed"`
	Since    time.Time           `json:"since"`
}

type StatusEvent struct {
	Type     EventType            `json:"type"`
	Target   TargetStatus         `json:"target"`
	Previous *reachability.Status `json:"previous,omitempty"`
}

// Key returns the canonical name of a target.
func Key(t reachability.Target) string {
	if t.IsAny() {
		return AnyKey
	}
	return t.Host
}

// ParseKey is the inverse of Key.
func ParseKey(key string) reachability.Target {
	if key == AnyKey {
		return reachability.AnyTarget
	}
	return reachability.HostTarget(key)
}
