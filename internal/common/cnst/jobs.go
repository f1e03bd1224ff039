package cnst

// JobKind identifies a class of long-running backend operation.
type JobKind string

const (
	JobLogProcessing     JobKind = "logProcessing"
	JobLogRemoval        JobKind = "logRemoval"
	JobCacheClearing     JobKind = "cacheClearing"
	JobServiceRemoval    JobKind = "serviceRemoval"
	JobGameRemoval       JobKind = "gameRemoval"
	JobCorruptionRemoval JobKind = "corruptionRemoval"
	JobDatabaseReset     JobKind = "databaseReset"
	JobDepotMapping      JobKind = "depotMapping"
	JobGameDetection     JobKind = "gameDetection"
)

// AllJobKinds lists every job kind tracked by the engine.
var AllJobKinds = []JobKind{
	JobLogProcessing,
	JobLogRemoval,
	JobCacheClearing,
	JobServiceRemoval,
	JobGameRemoval,
	JobCorruptionRemoval,
	JobDatabaseReset,
	JobDepotMapping,
	JobGameDetection,
}

// Singleton reports whether at most one instance of the job can run
// server-side. Non-singleton jobs are keyed per entity (service name, game id).
func (k JobKind) Singleton() bool {
	switch k {
	case JobServiceRemoval, JobGameRemoval, JobLogRemoval:
		return false
	default:
		return true
	}
}

// Persistent reports whether the job's notification snapshot is mirrored to
// the durable store so it survives a restart.
func (k JobKind) Persistent() bool {
	switch k {
	case JobLogProcessing, JobCacheClearing, JobDatabaseReset, JobDepotMapping:
		return true
	default:
		return false
	}
}

// Incremental marks job kinds whose completion is animated rather than
// flipped instantly. Cosmetic only.
func (k JobKind) Incremental() bool {
	return k == JobDepotMapping
}
