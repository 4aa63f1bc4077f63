// Package eventloop is the controller's single-threaded reactor
// (spec.md §4.7): one goroutine owns the ObjectStore, Journal,
// Snapshotter, AgentRegistry, and Scheduler, and every external
// event — a scheduler tick, an agent frame, a client command, a
// housekeeping timer — resolves to a value sent on one command
// channel that this goroutine alone drains. This is the Go-native
// rendering of "no threads, a single dispatch path, readiness wait
// bounded by event_freq": rather than hand-rolling an epoll/kqueue
// multiplexer, the reactor leans on goroutines-feeding-a-channel,
// which the Go runtime already multiplexes for us.
//
// Grounded on the teacher's Controller struct and its
// dispatchLoop/resultLoop/timeoutLoop/snapshotLoop quartet
// (internal/controller/controller.go): this package collapses that
// quartet into one loop over a single select (no fixed priority among
// ready cases), and keeps the
// same close(stopCh) -> stop dependents -> loopWg.Wait() -> final
// snapshot -> close journal shutdown ordering the teacher documents
// in Controller.Stop().
package eventloop

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ChuLiYu/jers/internal/accounting"
	"github.com/ChuLiYu/jers/internal/agentregistry"
	"github.com/ChuLiYu/jers/internal/auth"
	"github.com/ChuLiYu/jers/internal/config"
	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/metrics"
	"github.com/ChuLiYu/jers/internal/notify"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/scheduler"
	"github.com/ChuLiYu/jers/internal/snapshot"
	"github.com/ChuLiYu/jers/internal/wire"
	"github.com/ChuLiYu/jers/pkg/model"
)

var log = slog.Default()

// command is the one type every producer (client RPC handler, agent
// session, scheduler ticker, housekeeping ticker) wraps its event in
// before sending it down Loop.commands. Exactly one command is acted
// on per loop iteration, giving the serialization spec.md §4.7/§5
// require.
type command struct {
	kind commandKind

	clientFrame *wire.ClientFrame
	clientReply chan *wire.ControllerReply

	agentEvent *agentregistry.Event

	fn func() // housekeeping/tick thunks run inline on the loop goroutine
}

type commandKind int

const (
	cmdClient commandKind = iota
	cmdAgent
	cmdFunc
)

// Loop is the controller's single-goroutine reactor.
type Loop struct {
	Store     *objectstore.ObjectStore
	Journal   *journal.Journal
	Dispatch  *dispatch.Dispatch
	Snapshot  *snapshot.Manager
	Scheduler *scheduler.Scheduler
	Agents    *agentregistry.Registry
	Notifier  notify.Notifier
	Recorder  accounting.Recorder
	Metrics   *metrics.Collector
	Auth      *auth.Checker
	Config    config.Config

	commands chan command
	stopCh   chan struct{}
	wg       sync.WaitGroup

	reopenLog chan struct{}
}

func New(store *objectstore.ObjectStore, jrnl *journal.Journal, disp *dispatch.Dispatch, snap *snapshot.Manager, sched *scheduler.Scheduler, agents *agentregistry.Registry, notifier notify.Notifier, recorder accounting.Recorder, coll *metrics.Collector, checker *auth.Checker, cfg config.Config) *Loop {
	return &Loop{
		Store:     store,
		Journal:   jrnl,
		Dispatch:  disp,
		Snapshot:  snap,
		Scheduler: sched,
		Agents:    agents,
		Notifier:  notifier,
		Recorder:  recorder,
		Metrics:   coll,
		Auth:      checker,
		Config:    cfg,
		commands:  make(chan command, 256),
		stopCh:    make(chan struct{}),
		reopenLog: make(chan struct{}, 1),
	}
}

// SubmitClientFrame enqueues one client command and blocks until the
// loop processes it and returns a reply.
func (l *Loop) SubmitClientFrame(ctx context.Context, f *wire.ClientFrame) (*wire.ControllerReply, error) {
	reply := make(chan *wire.ControllerReply, 1)
	select {
	case l.commands <- command{kind: cmdClient, clientFrame: f, clientReply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.stopCh:
		return nil, context.Canceled
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitAgentEvents folds a per-agent-session event channel into the
// loop's single command stream until the channel closes or the loop
// stops.
func (l *Loop) SubmitAgentEvents(events <-chan agentregistry.Event) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				evCopy := ev
				select {
				case l.commands <- command{kind: cmdAgent, agentEvent: &evCopy}:
				case <-l.stopCh:
					return
				}
			case <-l.stopCh:
				return
			}
		}
	}()
}

// WaitAgentEvents forwards one agent session's events into the loop's
// command stream until the channel closes, blocking the caller for as
// long as the session is live. Unlike SubmitAgentEvents, which folds
// the channel in from a detached goroutine, this is meant to be
// called directly from the gRPC AgentSession handler goroutine: gRPC
// keeps the stream open only as long as that handler has not
// returned, so the handler must block here for the session's whole
// lifetime rather than fire-and-forget.
func (l *Loop) WaitAgentEvents(events <-chan agentregistry.Event) {
	for ev := range events {
		evCopy := ev
		select {
		case l.commands <- command{kind: cmdAgent, agentEvent: &evCopy}:
		case <-l.stopCh:
			return
		}
	}
}

// Run is the reactor itself. It blocks until Stop is called or ctx is
// canceled. Each pass acts on exactly one ready case of a single
// select: a ticker, a signal, or one agent/client command (commands
// are FIFO, since the channel is strictly ordered per sender). When
// several cases are ready at once, Go picks among them at random; no
// priority order between tickers and commands is imposed.
func (l *Loop) Run(ctx context.Context) {
	schedTicker := time.NewTicker(l.Config.SchedFreq())
	sweepTicker := time.NewTicker(time.Second)
	saveTicker := time.NewTicker(l.Config.BackgroundSave())
	deferredTicker := time.NewTicker(750 * time.Millisecond)
	defer schedTicker.Stop()
	defer sweepTicker.Stop()
	defer saveTicker.Stop()
	defer deferredTicker.Stop()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-l.stopCh:
			l.shutdown()
			return
		case <-ctx.Done():
			l.shutdown()
			return

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				select {
				case l.reopenLog <- struct{}{}:
				default:
				}
			default:
				l.shutdown()
				return
			}

		case <-schedTicker.C:
			l.Scheduler.Tick()

		case <-sweepTicker.C:
			l.Store.SweepReclaimable(l.Config.MaxCleanJob)

		case <-saveTicker.C:
			l.takeSnapshot()

		case <-deferredTicker.C:
			// Deferred->Pending release also happens inline inside
			// Scheduler.Tick per spec.md §4.4 step 2; this ticker
			// exists to match the documented 750ms timed event even
			// though the scheduler tick interval may differ.

		case cmd := <-l.commands:
			l.handle(cmd)
		}
	}
}

func (l *Loop) handle(cmd command) {
	switch cmd.kind {
	case cmdClient:
		cmd.clientReply <- l.handleClientFrame(cmd.clientFrame)
	case cmdAgent:
		l.handleAgentEvent(cmd.agentEvent)
	case cmdFunc:
		cmd.fn()
	}
}

// handleClientFrame dispatches one ClientFrame by Op to the
// corresponding CommandDispatch method, enforcing the capability
// checks spec.md §4.9 requires before any mutation. Every add_job/
// add_queue/... payload travels as one JSON blob under
// wire.FieldPayload: the flat typed-field set in internal/wire has no
// natural encoding for JobSpec's nested ReqResources/Tags, so this is
// the "blob" escape hatch the wire package's doc comment describes.
func (l *Loop) handleClientFrame(f *wire.ClientFrame) *wire.ControllerReply {
	uid64, _ := wire.Int64(f.Fields, wire.FieldUID)
	uid := int(uid64)
	payload, _ := wire.String(f.Fields, wire.FieldPayload)

	switch f.Op {
	case "add_job":
		var spec dispatch.JobSpec
		if err := json.Unmarshal([]byte(payload), &spec); err != nil {
			return errReply("DecodeError", err)
		}
		q, ok := l.Store.GetQueue(spec.Queue)
		if !ok {
			return errReply("QueueNotFound", nil)
		}
		if l.Auth != nil {
			if err := l.Auth.CanSubmit(uid, q); err != nil {
				return errReply("Forbidden", err)
			}
		}
		jobID, err := l.Dispatch.AddJob(uid, spec)
		if err != nil {
			return errReply("AddJobFailed", err)
		}
		if l.Metrics != nil {
			l.Metrics.RecordSubmit()
		}
		return okReply(wire.Field{ID: wire.FieldJobID, Kind: wire.FieldInt64, Int64: int64(jobID)})

	case "mod_job":
		var p struct {
			JobID model.JobID
			Delta dispatch.JobDelta
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return errReply("DecodeError", err)
		}
		if l.Auth != nil {
			if err := l.requireOwner(uid, p.JobID); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.ModJob(uid, p.JobID, p.Delta, false); err != nil {
			return errReply("ModJobFailed", err)
		}
		return okReply()

	case "del_job":
		jobID, _ := wire.Int64(f.Fields, wire.FieldJobID)
		if l.Auth != nil {
			if err := l.requireOwner(uid, model.JobID(jobID)); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.DelJob(uid, model.JobID(jobID), false); err != nil {
			return errReply("DelJobFailed", err)
		}
		return okReply()

	case "get_job":
		var filter model.JobFilter
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &filter); err != nil {
				return errReply("DecodeError", err)
			}
		}
		jobs := l.Dispatch.GetJob(filter)
		return okReply(jsonField(jobs))

	case "add_queue":
		var spec dispatch.QueueSpec
		if err := json.Unmarshal([]byte(payload), &spec); err != nil {
			return errReply("DecodeError", err)
		}
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.AddQueue(uid, spec, false); err != nil {
			return errReply("AddQueueFailed", err)
		}
		return okReply()

	case "mod_queue":
		var p struct {
			Name  string
			Delta dispatch.QueueDelta
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return errReply("DecodeError", err)
		}
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.ModQueue(uid, p.Name, p.Delta, false); err != nil {
			return errReply("ModQueueFailed", err)
		}
		return okReply()

	case "del_queue":
		name, _ := wire.String(f.Fields, wire.FieldHost)
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.DelQueue(uid, name, false); err != nil {
			return errReply("DelQueueFailed", err)
		}
		return okReply()

	case "get_queue":
		return okReply(jsonField(l.Dispatch.ListQueues()))

	case "add_resource":
		var spec dispatch.ResourceSpec
		if err := json.Unmarshal([]byte(payload), &spec); err != nil {
			return errReply("DecodeError", err)
		}
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.AddResource(uid, spec, false); err != nil {
			return errReply("AddResourceFailed", err)
		}
		return okReply()

	case "mod_resource":
		var p struct {
			Name  string
			Delta dispatch.ResourceDelta
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return errReply("DecodeError", err)
		}
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.ModResource(uid, p.Name, p.Delta, false); err != nil {
			return errReply("ModResourceFailed", err)
		}
		return okReply()

	case "del_resource":
		name, _ := wire.String(f.Fields, wire.FieldHost)
		if l.Auth != nil {
			if err := l.Auth.CanAdminister(uid); err != nil {
				return errReply("Forbidden", err)
			}
		}
		if err := l.Dispatch.DelResource(uid, name, false); err != nil {
			return errReply("DelResourceFailed", err)
		}
		return okReply()

	case "get_resource":
		return okReply(jsonField(l.Dispatch.ListResources()))

	default:
		return errReply("UnknownOp", nil)
	}
}

// requireOwner enforces CanModify for mod_job/del_job: the job must
// exist and the caller must own it (or be a member of an admin gid).
func (l *Loop) requireOwner(uid int, jobID model.JobID) error {
	jobs := l.Dispatch.GetJob(model.JobFilter{JobID: jobID})
	if len(jobs) == 0 {
		return auth.ErrNotJobOwner
	}
	return l.Auth.CanModify(uid, jobs[0])
}

func okReply(fields ...wire.Field) *wire.ControllerReply {
	return &wire.ControllerReply{OK: true, Fields: fields}
}

func errReply(kind string, err error) *wire.ControllerReply {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &wire.ControllerReply{OK: false, ErrKind: kind, ErrMsg: msg}
}

// jsonField wraps v as a single JSON-encoded payload field, mirroring
// how handleClientFrame decodes request payloads.
func jsonField(v any) wire.Field {
	b, _ := json.Marshal(v)
	return wire.Field{ID: wire.FieldPayload, Kind: wire.FieldString, Str: string(b)}
}

func (l *Loop) handleAgentEvent(ev *agentregistry.Event) {
	switch ev.Kind {
	case agentregistry.EventRecon:
		l.handleRecon(ev.Host, ev.Recon)
	case agentregistry.EventReady:
		if ev.Frame != nil {
			l.handleAgentFrame(ev.Frame)
		}
		if l.Metrics != nil {
			l.Metrics.SetAgentsConnected(1)
		}
	case agentregistry.EventReconDone:
		_ = l.Journal.Sync()
	case agentregistry.EventDisconnected, agentregistry.EventAuthFailed:
		l.handleAgentGone(ev.Host)
	}
}

// handleRecon implements spec.md §4.5's per-record reconciliation: it
// must be fatal if the jobid is absent, since that means the
// controller dispatched a job its own journal never durably recorded.
func (l *Loop) handleRecon(host string, rec *agentregistry.ReconRecord) {
	jobID := model.JobID(rec.JobID)
	err := l.Store.WithJob(jobID, func(j *model.Job, q *model.Queue) error {
		j.PendReason = model.PendNone
		if j.State != model.JobRunning {
			j.State = model.JobRunning
		}
		j.MarkDirty()
		return nil
	})
	if err != nil {
		log.Error("recon record for unknown job, journal was not durable before dispatch", "host", host, "jobid", jobID, "err", err)
		l.Stop()
	}
}

// handleAgentFrame decodes JOB_STARTED/JOB_COMPLETED frames from an
// already-Ready session and drives ObjectStore/journal/notify/
// accounting accordingly.
func (l *Loop) handleAgentFrame(frame *wire.AgentFrame) {
	switch frame.Type {
	case "JOB_STARTED":
		jobID, _ := wire.Int64(frame.Fields, wire.FieldJobID)
		pid, _ := wire.Int64(frame.Fields, wire.FieldPID)
		_ = l.Store.WithJob(model.JobID(jobID), func(j *model.Job, q *model.Queue) error {
			j.PID = int(pid)
			j.StartTime = time.Now()
			j.PendReason = model.PendNone
			j.MarkDirty()
			return nil
		})
		_ = l.Dispatch.ChangeJobState(0, model.JobID(jobID), model.JobRunning, true, false)

	case "JOB_COMPLETED":
		jobID, _ := wire.Int64(frame.Fields, wire.FieldJobID)
		exitCode, _ := wire.Int64(frame.Fields, wire.FieldExitCode)
		sig, _ := wire.Int64(frame.Fields, wire.FieldSignal)

		var finished *model.Job
		newState := model.JobCompleted
		failReason := model.FailNone
		if sig != 0 {
			newState = model.JobExited
			failReason = model.FailSignaled
		} else if exitCode != 0 {
			newState = model.JobExited
			failReason = model.FailNonZeroRC
		}

		_ = l.Store.WithJob(model.JobID(jobID), func(j *model.Job, q *model.Queue) error {
			j.ExitCode = int(exitCode)
			j.Signal = int(sig)
			j.FailReason = failReason
			j.FinishTime = time.Now()
			j.InternalState &^= model.JobStarted
			if q != nil {
				q.ActiveCount--
			}
			finished = j.Clone()
			return nil
		})
		// Released after WithJob returns: ModResource takes the store
		// lock that WithJob holds while its callback runs.
		if finished != nil {
			l.releaseResources(finished)
		}
		_ = l.Dispatch.ChangeJobState(0, model.JobID(jobID), newState, true, false)

		if finished != nil {
			if l.Notifier != nil {
				_ = l.Notifier.NotifyJobFinished(finished, false)
			}
			if l.Recorder != nil {
				l.Recorder.RecordJobFinished(finished)
			}
			if l.Metrics != nil {
				l.Metrics.RecordFinished(newState == model.JobCompleted, finished.FinishTime.Sub(finished.SubmitTime).Seconds())
			}
		}
	}
}

func (l *Loop) releaseResources(j *model.Job) {
	for _, req := range j.ReqResources {
		_ = l.Store.ModResource(req.Resource, func(r *model.Resource) error {
			r.InUse -= req.Count
			return nil
		})
	}
}

// handleAgentGone implements the per-queue and per-job disconnect
// fallout spec.md §4.5 requires: bind state is cleared, and any job
// still thought to be owned by this host is marked pend_reason
// AgentDisconnected so the next tick does not try to redispatch it
// blindly.
func (l *Loop) handleAgentGone(host string) {
	bound := map[string]bool{}
	for _, q := range l.Store.ListQueues() {
		if q.Agent == host {
			bound[q.Name] = true
			_ = l.Store.ModQueue(q.Name, func(q *model.Queue) error {
				q.Agent = ""
				return nil
			})
		}
	}
	for _, j := range l.Store.GetJob(model.JobFilter{}) {
		if !bound[j.Queue] {
			continue
		}
		if j.State == model.JobRunning || j.InternalState.Has(model.JobStarted) {
			_ = l.Store.WithJob(j.JobID, func(j *model.Job, q *model.Queue) error {
				j.PendReason = model.PendAgentDisconnected
				return nil
			})
		}
	}
}

// takeSnapshot implements the background_save_ms timed event: it
// copies out every dirty object under the store lock, hands the
// copies to the Manager's background writer goroutine, and clears
// Flushing once that goroutine reports success. Per spec.md §9 a
// failed background save is fatal, the direct analogue of a forked
// save-process dying: this controller has no child process to exit
// with a signal, so it logs and shuts itself down instead.
func (l *Loop) takeSnapshot() {
	if l.Snapshot.InFlight() {
		return
	}
	jobs, queues, resources := l.Store.CopyDirty()
	if len(jobs) == 0 && len(queues) == 0 && len(resources) == 0 {
		return
	}
	pos := l.Journal.CurrentPosition()
	start := time.Now()
	ch, ok := l.Snapshot.TryStart(jobs, queues, resources, pos)
	if !ok {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		res := <-ch
		if l.Metrics != nil {
			l.Metrics.ObserveSnapshotDuration(time.Since(start).Seconds())
		}
		if res.Err != nil {
			log.Error("background save failed", "err", res.Err)
			l.Stop()
			return
		}
		l.Store.ClearFlushing(res.Jobs, res.Queues, res.Resources)
	}()
}

// Stop requests a graceful shutdown; it does not block. Callers that
// need to know shutdown completed should wait on Run returning.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

// shutdown implements the documented stopCh -> drain dependents ->
// final save -> close journal ordering: it waits for every background
// goroutine this Loop started to exit, takes one last synchronous
// snapshot of whatever is still dirty so nothing is lost between the
// final background_save_ms tick and process exit, then closes the
// journal.
func (l *Loop) shutdown() {
	l.wg.Wait()

	jobs, queues, resources := l.Store.CopyDirty()
	if len(jobs) > 0 || len(queues) > 0 || len(resources) > 0 {
		pos := l.Journal.CurrentPosition()
		if ch, ok := l.Snapshot.TryStart(jobs, queues, resources, pos); ok {
			res := <-ch
			if res.Err != nil {
				log.Error("final snapshot failed", "err", res.Err)
			} else {
				l.Store.ClearFlushing(res.Jobs, res.Queues, res.Resources)
			}
		}
	}
	_ = l.Journal.Close()
}
