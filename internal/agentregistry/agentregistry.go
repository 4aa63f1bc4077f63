// Package agentregistry drives the per-agent handshake and session
// lifecycle of spec.md §4.5: AwaitLogin -> AwaitAuthResp -> ReconReq ->
// ReconComplete -> Ready, HMAC-SHA256 challenge/response, and the
// recon exchange that reconciles in-flight jobs on (re)connect.
//
// Grounded on the teacher's internal/raft/transport.go GrpcTransport
// (the controller-initiates-gRPC-session shape) and
// internal/worker/source.go's JobSource push/pull abstraction,
// re-targeted from "raft peer voting"/"worker polling" to a
// server-driven per-agent state machine: there is exactly one
// long-lived bidi stream per agent host, owned by this package, and
// every received frame is handed to the event loop as a single typed
// command rather than processed inline (spec.md §4.7's serialization
// requirement).
package agentregistry

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/wire"
	"github.com/ChuLiYu/jers/pkg/model"
)

// HandshakeState is the per-connection state machine of spec.md §4.5.
type HandshakeState int

const (
	AwaitLogin HandshakeState = iota
	AwaitAuthResp
	ReconReq
	ReconComplete
	Ready
)

func (s HandshakeState) String() string {
	switch s {
	case AwaitLogin:
		return "AwaitLogin"
	case AwaitAuthResp:
		return "AwaitAuthResp"
	case ReconReq:
		return "ReconReq"
	case ReconComplete:
		return "ReconComplete"
	case Ready:
		return "Ready"
	default:
		return "Invalid"
	}
}

// Session is the live connection state for one agent host.
type Session struct {
	Host  string
	State HandshakeState

	nonce       []byte
	nonceIssued time.Time

	stream wire.AgentSessionStream

	mu sync.Mutex
}

// Send pushes one ControllerFrame down this agent's stream. Safe for
// concurrent use: the event loop is the only writer in practice, but
// a session cleanup goroutine may race a final STOP_JOB.
func (s *Session) Send(f wire.ControllerFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(&f)
}

// Registry tracks one Session per connected agent hostname and
// verifies the shared-secret HMAC challenge/response.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	secret []byte // shared HMAC key, from config agent_secret

	// Store supplies the queue table AwaitLogin consults: a connecting
	// host is only known if some queue's Host field names it (or names
	// "localhost" and this host is the controller's own), and every
	// queue that names it gets bound to this agent.
	Store *objectstore.ObjectStore

	// ClockSkew bounds how far AGENT_AUTH_RESP's echoed timestamp may
	// drift from now before the response is rejected, per spec.md
	// §4.5's "timestamp tolerance window".
	ClockSkew time.Duration

	Now      func() time.Time
	Hostname func() (string, error)
}

// Event is one state-machine outcome the event loop must act on:
// dispatching RECON_REQ, marking a job Running again after a recon
// record, or tearing a session down on disconnect/auth failure.
type Event struct {
	Host string
	Kind EventKind

	Recon *ReconRecord     // set when Kind == EventRecon
	Frame *wire.AgentFrame // set when Kind == EventReady and carrying a forwarded frame
}

type EventKind int

const (
	EventReady EventKind = iota
	EventDisconnected
	EventAuthFailed
	EventRecon
	EventReconDone
)

// ReconRecord is one running-job line from an agent's RECON frame:
// "here is what I am actually running", used to reconcile ObjectStore
// state left over from a controller restart (spec.md §4.8).
type ReconRecord struct {
	JobID uint32
}

func New(secret []byte, store *objectstore.ObjectStore) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		secret:    secret,
		Store:     store,
		ClockSkew: 30 * time.Second,
		Now:       time.Now,
		Hostname:  os.Hostname,
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) hostname() (string, error) {
	if r.Hostname != nil {
		return r.Hostname()
	}
	return os.Hostname()
}

// bindableQueues returns every configured queue host should be bound
// to: an exact Host match, or Host == "localhost" when host is the
// controller's own hostname. Grounded on the original's
// command_agent_login, which walks the queue table the same way on
// every AGENT_LOGIN. A host matching no queue is unknown and the
// caller must reject it.
func (r *Registry) bindableQueues(host string) []*model.Queue {
	if r.Store == nil {
		return nil
	}
	self, _ := r.hostname()
	var out []*model.Queue
	for _, q := range r.Store.ListQueues() {
		switch {
		case q.Host == host:
			out = append(out, q)
		case q.Host == "localhost" && self != "" && self == host:
			out = append(out, q)
		}
	}
	return out
}

// Connect registers a new incoming stream and begins the handshake in
// AwaitLogin, per spec.md §4.5. Returns the Event stream the caller
// (internal/eventloop) should fold into its own command channel.
func (r *Registry) Connect(stream wire.AgentSessionStream) (*Session, <-chan Event) {
	sess := &Session{State: AwaitLogin, stream: stream}
	events := make(chan Event, 8)

	go r.drive(sess, events)
	return sess, events
}

func (r *Registry) drive(sess *Session, events chan<- Event) {
	defer close(events)
	for {
		frame, err := sess.stream.Recv()
		if err != nil {
			r.disconnect(sess)
			events <- Event{Host: sess.Host, Kind: EventDisconnected}
			return
		}
		if !r.step(sess, frame, events) {
			r.disconnect(sess)
			events <- Event{Host: sess.Host, Kind: EventAuthFailed}
			return
		}
	}
}

// step advances the handshake per one received AgentFrame. Returns
// false if the frame violates the expected state-machine order or the
// HMAC check fails, in which case the caller tears the session down.
func (r *Registry) step(sess *Session, frame *wire.AgentFrame, events chan<- Event) bool {
	switch sess.State {
	case AwaitLogin:
		if frame.Type != "AGENT_LOGIN" {
			return false
		}
		host, ok := wire.String(frame.Fields, wire.FieldHost)
		if !ok || host == "" {
			return false
		}

		// spec.md §4.5: unknown hosts are rejected and closed. A host
		// is known only if some queue's Host field names it, and every
		// such queue is bound to this agent now.
		queues := r.bindableQueues(host)
		if len(queues) == 0 {
			return false
		}
		for _, q := range queues {
			_ = r.Store.ModQueue(q.Name, func(q *model.Queue) error {
				q.Agent = host
				return nil
			})
		}

		sess.Host = host
		sess.nonce = make([]byte, 16)
		if _, err := rand.Read(sess.nonce); err != nil {
			return false
		}
		sess.nonceIssued = r.now()

		r.mu.Lock()
		r.sessions[host] = sess
		r.mu.Unlock()

		sess.State = AwaitAuthResp
		_ = sess.Send(wire.ControllerFrame{
			Type: "AGENT_AUTH_CHALLENGE",
			Fields: []wire.Field{
				{ID: wire.FieldNonce, Kind: wire.FieldString, Str: string(sess.nonce)},
			},
		})
		return true

	case AwaitAuthResp:
		if frame.Type != "AGENT_AUTH_RESP" {
			return false
		}
		mac, ok := wire.String(frame.Fields, wire.FieldHMAC)
		if !ok {
			return false
		}
		ts, ok := wire.Int64(frame.Fields, wire.FieldTimestamp)
		if !ok {
			return false
		}
		issued := time.Unix(ts, 0)
		if d := r.now().Sub(issued); d > r.ClockSkew || d < -r.ClockSkew {
			return false
		}
		if !r.verifyHMAC(sess.nonce, ts, mac) {
			return false
		}

		sess.State = ReconReq
		_ = sess.Send(wire.ControllerFrame{Type: "RECON_REQ"})
		return true

	case ReconReq:
		switch frame.Type {
		case "RECON":
			ids, _ := wire.StringArray(frame.Fields, wire.FieldRunningIDs)
			// RECON may arrive as several frames before RECON_COMPLETE;
			// forward each batch as it comes so the event loop can
			// start reconciling without waiting on one giant frame.
			for _, raw := range ids {
				var jobID uint32
				if _, err := fmt.Sscanf(raw, "%d", &jobID); err == nil {
					events <- Event{Host: sess.Host, Kind: EventRecon, Recon: &ReconRecord{JobID: jobID}}
				}
			}
			return true
		case "RECON_COMPLETE":
			sess.State = ReconComplete
			events <- Event{Host: sess.Host, Kind: EventReconDone}
			sess.State = Ready
			events <- Event{Host: sess.Host, Kind: EventReady}
			return true
		default:
			return false
		}

	case Ready:
		// JOB_STARTED/JOB_COMPLETED frames are forwarded verbatim;
		// internal/eventloop decodes the payload and drives ObjectStore,
		// since it alone holds the journaling Dispatch handle.
		events <- Event{Host: sess.Host, Kind: EventReady, Frame: frame}
		return true
	}
	return false
}

func (r *Registry) verifyHMAC(nonce []byte, ts int64, mac string) bool {
	h := hmac.New(sha256.New, r.secret)
	h.Write(nonce)
	fmt.Fprintf(h, "%d", ts)
	expected := h.Sum(nil)
	return hmac.Equal(expected, []byte(mac))
}

func (r *Registry) disconnect(sess *Session) {
	if sess.Host == "" {
		return
	}
	r.mu.Lock()
	delete(r.sessions, sess.Host)
	r.mu.Unlock()
}

// Get returns the live session for host, if connected and Ready.
func (r *Registry) Get(host string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[host]
	if !ok || s.State != Ready {
		return nil, false
	}
	return s, true
}

// StartJob implements scheduler.AgentDispatcher: encodes a START_JOB
// ControllerFrame and sends it down the named agent's session.
func (r *Registry) StartJob(host string, job *model.Job) error {
	s, ok := r.Get(host)
	if !ok {
		return fmt.Errorf("agentregistry: agent %q not connected", host)
	}
	return s.Send(wire.ControllerFrame{
		Type: "START_JOB",
		Fields: []wire.Field{
			{ID: wire.FieldJobID, Kind: wire.FieldInt64, Int64: int64(job.JobID)},
			{ID: wire.FieldHost, Kind: wire.FieldString, Str: job.Shell},
			{ID: wire.FieldArgv, Kind: wire.FieldStringArray, StringArray: job.Argv},
			{ID: wire.FieldEnvp, Kind: wire.FieldStringArray, StringArray: job.Envp},
		},
	})
}
