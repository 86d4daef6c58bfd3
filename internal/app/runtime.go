package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// disableEnv lists components this process must not start, comma separated.
// Extra worker replicas set ODYSSEY_DISABLE=scheduler so cron entries are
// enqueued by one process only.
const disableEnv = "ODYSSEY_DISABLE"

// Runtime components that can be switched off.
const (
	ComponentAPI       = "api"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
)

var (
	disabled     atomic.Value // map[string]bool
	disabledOnce sync.Once
)

func loadDisabled() {
	set := make(map[string]bool)
	for _, part := range strings.Split(os.Getenv(disableEnv), ",") {
		if name := strings.ToLower(strings.TrimSpace(part)); name != "" {
			set[name] = true
		}
	}
	disabled.Store(set)
}

// Disabled reports whether the named component is switched off.
func Disabled(component string) bool {
	disabledOnce.Do(loadDisabled)
	set, _ := disabled.Load().(map[string]bool)
	return set[component]
}

// RefreshRuntime re-reads ODYSSEY_DISABLE after environment changes.
func RefreshRuntime() {
	disabledOnce.Do(func() {})
	loadDisabled()
}
