package threading

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

var names = cmap.NewWithCustomShardingFunction[int64, string](func(id int64) uint32 {
	return uint32(id) * 2654435761
})

// SetNameOfCurrentThread names the calling thread for debuggers and NameOf.
// The OS only keeps the first 15 bytes on Linux.
func SetNameOfCurrentThread(name string) {
	id := currentThreadID()
	names.Set(id, name)
	if err := setOSThreadName(name); err != nil {
		logger.Debugf("set name of thread %d to %q failed: %v", id, name, err)
	}
}

// NameOf returns the name given to h with SetNameOfCurrentThread.
// Names of threads started by Thread are forgotten when they exit.
func NameOf(h ThreadHandle) (string, bool) {
	return names.Get(h.id)
}
