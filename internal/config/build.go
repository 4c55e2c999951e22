package config

// Release metadata for the notifier, scheduler and ops binaries, injected by
// the deployment pipeline:
//
//	go build -ldflags "-X sandboxnotify/internal/config.version=1.2.3 \
//	    -X sandboxnotify/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X sandboxnotify/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata. Load stores it
// in Config.Build.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent is the User-Agent the sandbox API and Notify see from service.
func (b BuildInfo) UserAgent(service string) string {
	return service + "/" + b.Version
}

// LogAttrs are the key/value pairs every cold-start logger carries.
func (b BuildInfo) LogAttrs() []any {
	return []any{"version", b.Version, "commit", b.Commit}
}
