package model

// JobFilter expresses the conjunction of predicates get_job accepts
// per spec.md §4.1. A zero-valued field is not applied; JobID alone,
// when nonzero, is an exact match and short-circuits every other
// field.
type JobFilter struct {
	JobID       JobID  // exact match; if set, all other fields are ignored
	Name        string // equality
	Queue       string // equality
	StateMask   JobState
	UID         int
	HasUID      bool
	TagKey      string
	TagValue    string
	HasTag      bool
	Resource    string
	HasResource bool
}

// Match reports whether job satisfies every predicate set on f.
func (f JobFilter) Match(j *Job) bool {
	if f.JobID != 0 {
		return j.JobID == f.JobID
	}
	if f.Name != "" && j.Name != f.Name {
		return false
	}
	if f.Queue != "" && j.Queue != f.Queue {
		return false
	}
	if f.StateMask != 0 && !j.State.Has(f.StateMask) {
		return false
	}
	if f.HasUID && j.SubmitterUID != f.UID {
		return false
	}
	if f.HasTag {
		v, ok := j.Tags[f.TagKey]
		if !ok || v != f.TagValue {
			return false
		}
	}
	if f.HasResource {
		found := false
		for _, r := range j.ReqResources {
			if r.Resource == f.Resource {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FieldMask selects which Job fields a get_job response populates;
// unspecified fields are omitted from the wire response per spec.md
// §4.1. One bit per Job field; this numbering is independent of the
// wire field ids in internal/wire.
type FieldMask uint32

const (
	FieldJobID FieldMask = 1 << iota
	FieldName
	FieldQueue
	FieldState
	FieldPendReason
	FieldExitCode
	FieldPriority
	FieldSubmitTime
	FieldStartTime
	FieldFinishTime
	FieldTags
	FieldRUsage

	FieldAll FieldMask = 1<<iota - 1
)

func (m FieldMask) Has(bit FieldMask) bool { return m&bit != 0 }
