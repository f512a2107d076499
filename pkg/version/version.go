package version

// Overridden at link time:
//
//	go build -ldflags "-X github.com/dmdmdm-nz/reachd/pkg/version.Version=1.2.0"
var (
	// Version contains the current version of reachd
	Version = "dev"

	// CommitHash contains the current git commit hash
	CommitHash = "unknown"

	// BuildTime contains the time of build
	BuildTime = "unknown"
)
