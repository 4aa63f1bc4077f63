package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/pkg/model"
)

// AddJob validates and materializes a new job, assigns it the next
// free id, and journals exactly one ADD_JOB record (spec.md §4.1).
// Replay uses AddJobReplay instead, since the id was already assigned
// the first time this command ran.
func (d *Dispatch) AddJob(uid int, spec JobSpec) (model.JobID, error) {
	if spec.RunUID == 0 {
		return 0, objectstore.ErrInvalidArgument
	}
	if d.Identity != nil {
		if _, err := d.Identity.UserName(spec.RunUID); err != nil {
			return 0, objectstore.ErrInvalidArgument
		}
	}

	jobID, err := d.Store.AllocateJobID()
	if err != nil {
		return 0, err
	}

	var deferTime time.Time
	if spec.DeferTimeSec > 0 {
		deferTime = time.Unix(spec.DeferTimeSec, 0)
	}

	job := &model.Job{
		JobID:        jobID,
		Name:         spec.Name,
		Queue:        spec.Queue,
		SubmitterUID: spec.SubmitterUID,
		RunUID:       spec.RunUID,
		Shell:        spec.Shell,
		PreCmd:       spec.PreCmd,
		PostCmd:      spec.PostCmd,
		Argv:         spec.Argv,
		Envp:         spec.Envp,
		Stdout:       spec.Stdout,
		Stderr:       spec.Stderr,
		Nice:         spec.Nice,
		Priority:     spec.Priority,
		DeferTime:    deferTime,
		Tags:         spec.Tags,
		ReqResources: spec.ReqResources,
	}

	if err := d.Store.AddJob(job, spec.Hold, d.now()); err != nil {
		return 0, err
	}

	payload, _ := json.Marshal(addJobPayload{JobSpec: spec, JobID: jobID})
	if err := d.appendRecord(false, uid, journal.CmdAddJob, jobID, 0, string(payload)); err != nil {
		return 0, err
	}
	return jobID, nil
}

// AddJobReplay recreates a job exactly as ADD_JOB originally
// journaled it, during recovery, bypassing id allocation.
func (d *Dispatch) AddJobReplay(uid int, encoded string) error {
	var p addJobPayload
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return fmt.Errorf("dispatch: decode ADD_JOB payload: %w", err)
	}

	var deferTime time.Time
	if p.DeferTimeSec > 0 {
		deferTime = time.Unix(p.DeferTimeSec, 0)
	}

	job := &model.Job{
		JobID:        p.JobID,
		Name:         p.Name,
		Queue:        p.Queue,
		SubmitterUID: p.SubmitterUID,
		RunUID:       p.RunUID,
		Shell:        p.Shell,
		PreCmd:       p.PreCmd,
		PostCmd:      p.PostCmd,
		Argv:         p.Argv,
		Envp:         p.Envp,
		Stdout:       p.Stdout,
		Stderr:       p.Stderr,
		Nice:         p.Nice,
		Priority:     p.Priority,
		DeferTime:    deferTime,
		Tags:         p.Tags,
		ReqResources: p.ReqResources,
	}
	return d.Store.AddJob(job, p.Hold, d.now())
}

// ModJob applies delta to an existing job and journals one MOD_JOB
// record.
func (d *Dispatch) ModJob(uid int, jobID model.JobID, delta JobDelta, replaying bool) error {
	err := d.Store.ModJob(jobID, func(j *model.Job) error {
		if delta.Priority != nil {
			j.Priority = *delta.Priority
		}
		if delta.Nice != nil {
			j.Nice = *delta.Nice
		}
		if delta.Hold != nil {
			if *delta.Hold {
				j.State = model.JobHolding
			} else if j.State == model.JobHolding {
				j.State = model.JobPending
			}
		}
		for k, v := range delta.Tags {
			if j.Tags == nil {
				j.Tags = map[string]string{}
			}
			j.Tags[k] = v
		}
		return nil
	})
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(modJobPayload{JobID: jobID, Delta: delta})
	return d.appendRecord(replaying, uid, journal.CmdModJob, jobID, 0, string(payload))
}

// ChangeJobState is the journaled form of ObjectStore.ChangeJobState,
// used by the scheduler and AgentRegistry whenever a state transition
// must survive a restart (spec.md §4.6's changeJobState helper).
func (d *Dispatch) ChangeJobState(uid int, jobID model.JobID, newState model.JobState, dirty bool, replaying bool) error {
	if err := d.Store.ChangeJobState(jobID, newState, dirty); err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	payload, _ := json.Marshal(changeStatePayload{JobID: jobID, NewState: newState})
	return d.appendRecord(replaying, uid, journal.CmdModJob, jobID, 0, string(payload))
}

// DelJob flips the Deleted flag and journals one DEL_JOB record.
func (d *Dispatch) DelJob(uid int, jobID model.JobID, replaying bool) error {
	if err := d.Store.DelJob(jobID); err != nil {
		return err
	}
	payload, _ := json.Marshal(delJobPayload{JobID: jobID})
	return d.appendRecord(replaying, uid, journal.CmdDelJob, jobID, 0, string(payload))
}

// GetJob never journals: reads are free per spec.md §4.6.
func (d *Dispatch) GetJob(filter model.JobFilter) []*model.Job {
	return d.Store.GetJob(filter)
}

// ReplayRecord feeds one journal record back through the appropriate
// handler with replaying=true, per spec.md §4.2's replay contract.
// The journal line's own uid field (rec.UID) is passed through to the
// handlers that take one.
func (d *Dispatch) ReplayRecord(rec journal.Record) error {
	switch rec.Cmd {
	case journal.CmdAddJob:
		return d.AddJobReplay(rec.UID, rec.Encoded)
	case journal.CmdModJob:
		return d.replayModJob(rec.UID, rec.Encoded)
	case journal.CmdDelJob:
		var p delJobPayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.DelJob(p.JobID)
	case journal.CmdAddQueue:
		var p addQueuePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.addQueueReplay(p.Spec)
	case journal.CmdModQueue:
		var p modQueuePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.ModQueue(p.Name, queueMutator(p.Delta))
	case journal.CmdDelQueue:
		var p delQueuePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.DelQueue(p.Name)
	case journal.CmdAddResource:
		var p addResourcePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.AddResource(&model.Resource{Name: p.Spec.Name, Count: p.Spec.Count})
	case journal.CmdModResource:
		var p modResourcePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.ModResource(p.Name, resourceMutator(p.Delta))
	case journal.CmdDelResource:
		var p delResourcePayload
		if err := json.Unmarshal([]byte(rec.Encoded), &p); err != nil {
			return err
		}
		return d.Store.DelResource(p.Name)
	default:
		return fmt.Errorf("dispatch: unknown journal command %q", rec.Cmd)
	}
}

// replayModJob distinguishes a changeStatePayload from a modJobPayload
// by probing which fields decode; the two commands share CmdModJob so
// replay must disambiguate by shape.
func (d *Dispatch) replayModJob(uid int, encoded string) error {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(encoded), &generic); err != nil {
		return err
	}
	if _, isStateChange := generic["NewState"]; isStateChange {
		var p changeStatePayload
		if err := json.Unmarshal([]byte(encoded), &p); err != nil {
			return err
		}
		return d.Store.ChangeJobState(p.JobID, p.NewState, false)
	}
	var p modJobPayload
	if err := json.Unmarshal([]byte(encoded), &p); err != nil {
		return err
	}
	return d.Store.ModJob(p.JobID, func(j *model.Job) error {
		delta := p.Delta
		if delta.Priority != nil {
			j.Priority = *delta.Priority
		}
		if delta.Nice != nil {
			j.Nice = *delta.Nice
		}
		if delta.Hold != nil {
			if *delta.Hold {
				j.State = model.JobHolding
			} else if j.State == model.JobHolding {
				j.State = model.JobPending
			}
		}
		for k, v := range delta.Tags {
			if j.Tags == nil {
				j.Tags = map[string]string{}
			}
			j.Tags[k] = v
		}
		return nil
	})
}
