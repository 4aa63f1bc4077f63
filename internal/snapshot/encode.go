package snapshot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/jers/pkg/model"
)

func encodeJob(j *model.Job) [][2]string {
	pairs := [][2]string{
		{"jobid", strconv.FormatUint(uint64(j.JobID), 10)},
		{"name", j.Name},
		{"queue", j.Queue},
		{"submitter_uid", strconv.Itoa(j.SubmitterUID)},
		{"run_uid", strconv.Itoa(j.RunUID)},
		{"shell", j.Shell},
		{"pre_cmd", j.PreCmd},
		{"post_cmd", j.PostCmd},
		{"argv", strings.Join(j.Argv, "\x1f")},
		{"envp", strings.Join(j.Envp, "\x1f")},
		{"stdout", j.Stdout},
		{"stderr", j.Stderr},
		{"nice", strconv.Itoa(j.Nice)},
		{"priority", strconv.Itoa(j.Priority)},
		{"state", strconv.Itoa(int(j.State))},
		{"internal_state", strconv.Itoa(int(j.InternalState))},
		{"pend_reason", string(j.PendReason)},
		{"fail_reason", string(j.FailReason)},
		{"exit_code", strconv.Itoa(j.ExitCode)},
		{"signal", strconv.Itoa(j.Signal)},
		{"submit_time", formatTime(j.SubmitTime)},
		{"defer_time", formatTime(j.DeferTime)},
		{"start_time", formatTime(j.StartTime)},
		{"finish_time", formatTime(j.FinishTime)},
		{"pid", strconv.Itoa(j.PID)},
		{"rusage_utime_usec", strconv.FormatInt(j.RUsage.UserTimeUsec, 10)},
		{"rusage_stime_usec", strconv.FormatInt(j.RUsage.SystemTimeUsec, 10)},
		{"rusage_maxrss_kb", strconv.FormatInt(j.RUsage.MaxRSSKB, 10)},
		{"revision", strconv.FormatUint(j.Revision, 10)},
	}
	for k, v := range j.Tags {
		pairs = append(pairs, [2]string{"tag." + k, v})
	}
	for _, r := range j.ReqResources {
		pairs = append(pairs, [2]string{"req_resource." + r.Resource, strconv.FormatInt(r.Count, 10)})
	}
	return pairs
}

func decodeJob(pairs [][2]string) (*model.Job, error) {
	j := &model.Job{Tags: map[string]string{}}
	for _, kv := range pairs {
		k, v := kv[0], kv[1]
		var err error
		switch {
		case k == "jobid":
			var id uint64
			id, err = strconv.ParseUint(v, 10, 32)
			j.JobID = model.JobID(id)
		case k == "name":
			j.Name = v
		case k == "queue":
			j.Queue = v
		case k == "submitter_uid":
			j.SubmitterUID, err = strconv.Atoi(v)
		case k == "run_uid":
			j.RunUID, err = strconv.Atoi(v)
		case k == "shell":
			j.Shell = v
		case k == "pre_cmd":
			j.PreCmd = v
		case k == "post_cmd":
			j.PostCmd = v
		case k == "argv":
			if v != "" {
				j.Argv = strings.Split(v, "\x1f")
			}
		case k == "envp":
			if v != "" {
				j.Envp = strings.Split(v, "\x1f")
			}
		case k == "stdout":
			j.Stdout = v
		case k == "stderr":
			j.Stderr = v
		case k == "nice":
			j.Nice, err = strconv.Atoi(v)
		case k == "priority":
			j.Priority, err = strconv.Atoi(v)
		case k == "state":
			var s int
			s, err = strconv.Atoi(v)
			j.State = model.JobState(s)
		case k == "internal_state":
			var s int
			s, err = strconv.Atoi(v)
			j.InternalState = model.JobInternalState(s)
		case k == "pend_reason":
			j.PendReason = model.PendReason(v)
		case k == "fail_reason":
			j.FailReason = model.FailReason(v)
		case k == "exit_code":
			j.ExitCode, err = strconv.Atoi(v)
		case k == "signal":
			j.Signal, err = strconv.Atoi(v)
		case k == "submit_time":
			j.SubmitTime, err = parseTime(v)
		case k == "defer_time":
			j.DeferTime, err = parseTime(v)
		case k == "start_time":
			j.StartTime, err = parseTime(v)
		case k == "finish_time":
			j.FinishTime, err = parseTime(v)
		case k == "pid":
			j.PID, err = strconv.Atoi(v)
		case k == "rusage_utime_usec":
			j.RUsage.UserTimeUsec, err = strconv.ParseInt(v, 10, 64)
		case k == "rusage_stime_usec":
			j.RUsage.SystemTimeUsec, err = strconv.ParseInt(v, 10, 64)
		case k == "rusage_maxrss_kb":
			j.RUsage.MaxRSSKB, err = strconv.ParseInt(v, 10, 64)
		case k == "revision":
			j.Revision, err = strconv.ParseUint(v, 10, 64)
		case strings.HasPrefix(k, "tag."):
			j.Tags[strings.TrimPrefix(k, "tag.")] = v
		case strings.HasPrefix(k, "req_resource."):
			var count int64
			count, err = strconv.ParseInt(v, 10, 64)
			if err == nil {
				j.ReqResources = append(j.ReqResources, model.ResourceRequirement{
					Resource: strings.TrimPrefix(k, "req_resource."),
					Count:    count,
				})
			}
		default:
			// unknown key: ignored with a warning by the caller (Load)
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode job field %q=%q: %w", k, v, err)
		}
	}
	return j, nil
}

func encodeQueue(q *model.Queue) [][2]string {
	pairs := [][2]string{
		{"name", q.Name},
		{"description", q.Description},
		{"host", q.Host},
		{"agent", q.Agent},
		{"job_limit", strconv.Itoa(q.JobLimit)},
		{"priority", strconv.Itoa(q.Priority)},
		{"state", strconv.Itoa(int(q.State))},
		{"def", strconv.FormatBool(q.Def)},
		{"stats_running", strconv.Itoa(q.Stats.Running)},
		{"stats_pending", strconv.Itoa(q.Stats.Pending)},
		{"stats_deferred", strconv.Itoa(q.Stats.Deferred)},
		{"stats_holding", strconv.Itoa(q.Stats.Holding)},
		{"stats_completed", strconv.Itoa(q.Stats.Completed)},
		{"stats_exited", strconv.Itoa(q.Stats.Exited)},
		{"active_count", strconv.Itoa(q.ActiveCount)},
		{"revision", strconv.FormatUint(q.Revision, 10)},
	}
	for gid, perm := range q.ACL {
		pairs = append(pairs, [2]string{"acl." + strconv.Itoa(gid), strconv.Itoa(int(perm))})
	}
	return pairs
}

func decodeQueue(pairs [][2]string) (*model.Queue, error) {
	q := &model.Queue{ACL: map[int]uint8{}}
	for _, kv := range pairs {
		k, v := kv[0], kv[1]
		var err error
		switch {
		case k == "name":
			q.Name = v
		case k == "description":
			q.Description = v
		case k == "host":
			q.Host = v
		case k == "agent":
			q.Agent = v
		case k == "job_limit":
			q.JobLimit, err = strconv.Atoi(v)
		case k == "priority":
			q.Priority, err = strconv.Atoi(v)
		case k == "state":
			var s int
			s, err = strconv.Atoi(v)
			q.State = model.QueueState(s)
		case k == "def":
			q.Def, err = strconv.ParseBool(v)
		case k == "stats_running":
			q.Stats.Running, err = strconv.Atoi(v)
		case k == "stats_pending":
			q.Stats.Pending, err = strconv.Atoi(v)
		case k == "stats_deferred":
			q.Stats.Deferred, err = strconv.Atoi(v)
		case k == "stats_holding":
			q.Stats.Holding, err = strconv.Atoi(v)
		case k == "stats_completed":
			q.Stats.Completed, err = strconv.Atoi(v)
		case k == "stats_exited":
			q.Stats.Exited, err = strconv.Atoi(v)
		case k == "active_count":
			q.ActiveCount, err = strconv.Atoi(v)
		case k == "revision":
			q.Revision, err = strconv.ParseUint(v, 10, 64)
		case strings.HasPrefix(k, "acl."):
			var gid, perm int
			gid, err = strconv.Atoi(strings.TrimPrefix(k, "acl."))
			if err == nil {
				perm, err = strconv.Atoi(v)
			}
			if err == nil {
				q.ACL[gid] = uint8(perm)
			}
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode queue field %q=%q: %w", k, v, err)
		}
	}
	return q, nil
}

func encodeResource(r *model.Resource) [][2]string {
	return [][2]string{
		{"name", r.Name},
		{"count", strconv.FormatInt(r.Count, 10)},
		{"in_use", strconv.FormatInt(r.InUse, 10)},
		{"revision", strconv.FormatUint(r.Revision, 10)},
	}
}

func decodeResource(pairs [][2]string) (*model.Resource, error) {
	r := &model.Resource{}
	for _, kv := range pairs {
		k, v := kv[0], kv[1]
		var err error
		switch k {
		case "name":
			r.Name = v
		case "count":
			r.Count, err = strconv.ParseInt(v, 10, 64)
		case "in_use":
			r.InUse, err = strconv.ParseInt(v, 10, 64)
		case "revision":
			r.Revision, err = strconv.ParseUint(v, 10, 64)
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode resource field %q=%q: %w", k, v, err)
		}
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
