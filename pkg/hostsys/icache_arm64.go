package hostsys

// flushICache cleans the data cache to the point of unification and then
// invalidates the instruction cache for [start, end).
func flushICache(start, end uintptr)
