package dispatch

import "github.com/ChuLiYu/jers/pkg/model"

// JobSpec is the client-supplied shape of add_job; JobID is assigned
// by the dispatcher via ObjectStore.AllocateJobID, never by the
// caller.
type JobSpec struct {
	Name         string
	Queue        string
	SubmitterUID int
	RunUID       int
	Shell        string
	PreCmd       string
	PostCmd      string
	Argv         []string
	Envp         []string
	Stdout       string
	Stderr       string
	Nice         int
	Priority     int
	DeferTimeSec int64 // 0 means "not deferred"
	Hold         bool
	Tags         map[string]string
	ReqResources []model.ResourceRequirement
}

// JobDelta carries the subset of mutable Job fields a mod_job command
// may change; a nil pointer field means "leave unchanged".
type JobDelta struct {
	Priority *int
	Nice     *int
	Hold     *bool
	Tags     map[string]string
}

// QueueSpec is the client-supplied shape of add_queue.
type QueueSpec struct {
	Name        string
	Description string
	Host        string
	JobLimit    int
	Priority    int
	Def         bool
	ACL         map[int]uint8
}

// QueueDelta carries mutable Queue fields for mod_queue.
type QueueDelta struct {
	Description *string
	JobLimit    *int
	Priority    *int
	Started     *bool
	Open        *bool
}

// ResourceSpec is the client-supplied shape of add_resource.
type ResourceSpec struct {
	Name  string
	Count int64
}

// ResourceDelta carries mutable Resource fields for mod_resource.
type ResourceDelta struct {
	Count *int64
}

// addJobPayload is the JSON-encoded journal payload for ADD_JOB,
// matching the teacher's internal/raft/commands.go RaftCommand{Type,
// Payload} envelope idiom (a JSON-tagged command struct per
// operation) generalized from two raft command types to this closed
// set. It embeds JobSpec plus the id ObjectStore assigned, so a
// replayed record recreates the exact same job identity.
type addJobPayload struct {
	JobSpec
	JobID model.JobID
}

type modJobPayload struct {
	JobID model.JobID
	Delta JobDelta
}

type delJobPayload struct {
	JobID model.JobID
}

type changeStatePayload struct {
	JobID    model.JobID
	NewState model.JobState
}

type addQueuePayload struct {
	Spec QueueSpec
}

type modQueuePayload struct {
	Name  string
	Delta QueueDelta
}

type delQueuePayload struct {
	Name string
}

type addResourcePayload struct {
	Spec ResourceSpec
}

type modResourcePayload struct {
	Name  string
	Delta ResourceDelta
}

type delResourcePayload struct {
	Name string
}
