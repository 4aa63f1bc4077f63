// Package cli builds the Cobra command trees for the two front-end
// binaries this repository ships: jersd (the controller daemon) and
// jersctl (a thin client that talks the client wire protocol). Both
// the command structure and the panic-recovery-wrapped main()/
// BuildCLI() factory split are grounded on the teacher's
// internal/cli/cli.go + cmd/queue/main.go: one root command, flag-
// bound subcommands, a persistent --config flag defaulted to a
// repo-relative path.
//
// The line-oriented command-line front-end itself is out of
// spec.md §1's scope ("mechanical and peripheral"); what is in scope
// is everything downstream of the "run" subcommand, since that is
// where the controller-core components this repository implements
// get wired together into a running process.
package cli

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/jers/internal/accounting"
	"github.com/ChuLiYu/jers/internal/agentregistry"
	"github.com/ChuLiYu/jers/internal/auth"
	"github.com/ChuLiYu/jers/internal/config"
	"github.com/ChuLiYu/jers/internal/dispatch"
	"github.com/ChuLiYu/jers/internal/eventloop"
	"github.com/ChuLiYu/jers/internal/identity"
	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/internal/metrics"
	"github.com/ChuLiYu/jers/internal/notify"
	"github.com/ChuLiYu/jers/internal/objectstore"
	"github.com/ChuLiYu/jers/internal/recovery"
	"github.com/ChuLiYu/jers/internal/scheduler"
	"github.com/ChuLiYu/jers/internal/snapshot"
	"github.com/ChuLiYu/jers/internal/wire"
	"github.com/ChuLiYu/jers/pkg/model"
)

var configFile string

// BuildDaemonCLI returns the jersd root command: "run" loads config,
// recovers state, and blocks serving the client and agent listen
// sockets until a shutdown signal arrives.
func BuildDaemonCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "jersd",
		Short: "jersd is the batch job scheduling controller daemon",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "jersd.yaml", "config file path")
	root.AddCommand(buildRunCommand())
	return root
}

// BuildClientCLI returns the jersctl root command: submit/list/hold/
// release/queues/resources, each a single ClientCommand RPC to a
// running jersd.
func BuildClientCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "jersctl",
		Short: "jersctl submits and inspects jobs on a jersd controller",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "jersd.yaml", "config file path")
	root.AddCommand(buildSubmitCommand())
	root.AddCommand(buildListCommand())
	root.AddCommand(buildHoldCommand())
	root.AddCommand(buildReleaseCommand())
	root.AddCommand(buildDeleteCommand())
	root.AddCommand(buildQueuesCommand())
	root.AddCommand(buildResourcesCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the controller: recover state, then serve clients and agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("cli: load config: %w", err)
			}
			return runDaemon(cfg)
		},
	}
}

// runDaemon wires every controller-core component per spec.md §2's
// dataflow diagram, runs recovery, then blocks serving both listen
// sockets until SIGTERM/SIGINT/ctx cancellation, at which point it
// drains the event loop's shutdown sequence before returning.
func runDaemon(cfg config.Config) error {
	jrnl, err := journal.Open(cfg.StateDir+"/journal", 256, cfg.FlushDeferInterval(), syncModeFor(cfg))
	if err != nil {
		return fmt.Errorf("cli: open journal: %w", err)
	}

	store := objectstore.New(model.JobID(cfg.MaxJobID))
	resolver := identity.New(5 * time.Minute)
	disp := dispatch.New(store, jrnl, resolver)
	snap := snapshot.NewManager(cfg.StateDir, jrnl)

	result, err := recovery.Run(cfg.StateDir, store, disp)
	if err != nil {
		jrnl.Close()
		return fmt.Errorf("cli: recovery: %w", err)
	}
	fmt.Fprintf(os.Stderr, "recovered %d jobs, %d queues, %d resources, replayed %d journal records in %s\n",
		result.Jobs, result.Queues, result.Resources, result.ReplayedRecords, result.Duration)

	coll := metrics.NewCollector()
	coll.SetRecoveryTime(result.Duration.Seconds())

	secret, err := loadAgentSecret(cfg.AgentSecretFile)
	if err != nil {
		jrnl.Close()
		return fmt.Errorf("cli: load agent secret: %w", err)
	}
	agents := agentregistry.New(secret, store)
	agents.ClockSkew = cfg.MaxAuthTime()

	sched := &scheduler.Scheduler{
		Store:      store,
		Dispatch:   disp,
		Agents:     agents,
		MaxRunJobs: cfg.MaxSystemJobs,
		SchedMax:   cfg.SchedMax,
	}

	checker := auth.New(resolver, nil)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.MailServer != "" {
		notifier = notify.NewSMTPNotifier(cfg.MailServer, cfg.MailFrom, nil, func(uid int) (string, error) {
			return resolver.UserName(uid)
		})
	}
	recorder := accounting.NewSlogRecorder(nil)

	loop := eventloop.New(store, jrnl, disp, snap, sched, agents, notifier, recorder, coll, checker, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	clientLis, agentLis, err := listen(cfg)
	if err != nil {
		jrnl.Close()
		return err
	}

	clientServer := grpc.NewServer()
	agentServer := grpc.NewServer()
	svc := wire.RegisterControllerService(
		func(stream wire.AgentSessionStream) error {
			_, events := agents.Connect(stream)
			loop.WaitAgentEvents(events)
			return nil
		},
		func(ctx context.Context, req *wire.ClientFrame) (*wire.ControllerReply, error) {
			return loop.SubmitClientFrame(ctx, req)
		},
	)
	clientServer.RegisterService(&svc, nil)
	agentServer.RegisterService(&svc, nil)

	go clientServer.Serve(clientLis)
	go agentServer.Serve(agentLis)

	if cfg.MetricsPort != 0 {
		go metrics.StartServer(cfg.MetricsPort)
	}

	loop.Run(ctx)

	clientServer.GracefulStop()
	agentServer.GracefulStop()
	return nil
}

func syncModeFor(cfg config.Config) journal.SyncMode {
	if cfg.FlushDefer {
		return journal.SyncDeferred
	}
	return journal.SyncImmediate
}

func loadAgentSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

func listen(cfg config.Config) (client, agent net.Listener, err error) {
	client, err = newUnixListener(cfg.ClientListenSocket)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: listen client socket: %w", err)
	}
	agent, err = newUnixListener(cfg.AgentListenSocket)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("cli: listen agent socket: %w", err)
	}
	return client, agent, nil
}

// newUnixListener removes any stale socket file left by a prior,
// uncleanly terminated run before binding, matching the teacher's
// cmd/queue/main.go listener setup for its Unix-domain gRPC sockets.
func newUnixListener(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", path)
}

// --- jersctl client subcommands ---

func dialClient(ctx context.Context, path string) (*grpc.ClientConn, error) {
	return grpc.NewClient("unix://"+path, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func sendCommand(op string, uid int, payload any, fields ...wire.Field) (*wire.ControllerReply, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("cli: load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dialClient(ctx, cfg.ClientListenSocket)
	if err != nil {
		return nil, fmt.Errorf("cli: dial controller: %w", err)
	}
	defer conn.Close()

	f := append([]wire.Field{
		{ID: wire.FieldUID, Kind: wire.FieldInt64, Int64: int64(uid)},
	}, fields...)
	if payload != nil {
		b, _ := json.Marshal(payload)
		f = append(f, wire.Field{ID: wire.FieldPayload, Kind: wire.FieldString, Str: string(b)})
	}

	reply, err := wire.DialClientCommand(ctx, conn, &wire.ClientFrame{Op: op, Fields: f})
	if err != nil {
		return nil, fmt.Errorf("cli: %s RPC: %w", op, err)
	}
	if !reply.OK {
		return reply, fmt.Errorf("cli: %s failed: %s: %s", op, reply.ErrKind, reply.ErrMsg)
	}
	return reply, nil
}

func buildSubmitCommand() *cobra.Command {
	var queue, name, shell string
	var priority, nice int
	var hold bool

	cmd := &cobra.Command{
		Use:   "submit -- <argv...>",
		Short: "Submit a new job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := dispatch.JobSpec{
				Name:         name,
				Queue:        queue,
				SubmitterUID: os.Getuid(),
				RunUID:       os.Getuid(),
				Shell:        shell,
				Argv:         args,
				Priority:     priority,
				Nice:         nice,
				Hold:         hold,
			}
			reply, err := sendCommand("add_job", os.Getuid(), spec)
			if err != nil {
				return err
			}
			jobID, _ := wire.Int64(reply.Fields, wire.FieldJobID)
			fmt.Printf("submitted jobid=%d\n", jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "destination queue name")
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&shell, "shell", "", "shell to invoke argv through")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority (0-255)")
	cmd.Flags().IntVar(&nice, "nice", 0, "nice value")
	cmd.Flags().BoolVar(&hold, "hold", false, "submit in Holding state")
	cmd.MarkFlagRequired("queue")
	return cmd
}

func buildListCommand() *cobra.Command {
	var queueName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := model.JobFilter{Queue: queueName}
			reply, err := sendCommand("get_job", os.Getuid(), filter)
			if err != nil {
				return err
			}
			for _, f := range reply.Fields {
				if f.Kind == wire.FieldString {
					fmt.Println(f.Str)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by queue name")
	return cmd
}

func buildHoldCommand() *cobra.Command {
	return jobMutationCommand("hold", "Place a job on hold", func(jobID model.JobID) (string, any) {
		hold := true
		return "mod_job", struct {
			JobID model.JobID
			Delta dispatch.JobDelta
		}{jobID, dispatch.JobDelta{Hold: &hold}}
	})
}

func buildReleaseCommand() *cobra.Command {
	return jobMutationCommand("release", "Release a held job back to Pending", func(jobID model.JobID) (string, any) {
		hold := false
		return "mod_job", struct {
			JobID model.JobID
			Delta dispatch.JobDelta
		}{jobID, dispatch.JobDelta{Hold: &hold}}
	})
}

func buildDeleteCommand() *cobra.Command {
	return jobMutationCommand("delete", "Delete a job", func(jobID model.JobID) (string, any) {
		return "del_job", nil
	})
}

func jobMutationCommand(use, short string, build func(model.JobID) (string, any)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <jobid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID uint32
			if _, err := fmt.Sscanf(args[0], "%d", &jobID); err != nil {
				return fmt.Errorf("cli: invalid jobid %q: %w", args[0], err)
			}
			op, payload := build(model.JobID(jobID))
			_, err := sendCommand(op, os.Getuid(), payload, wire.Field{ID: wire.FieldJobID, Kind: wire.FieldInt64, Int64: int64(jobID)})
			return err
		},
	}
}

func buildQueuesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendCommand("get_queue", os.Getuid(), nil)
			if err != nil {
				return err
			}
			for _, f := range reply.Fields {
				if f.Kind == wire.FieldString {
					fmt.Println(f.Str)
				}
			}
			return nil
		},
	}
}

func buildResourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List named resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := sendCommand("get_resource", os.Getuid(), nil)
			if err != nil {
				return err
			}
			for _, f := range reply.Fields {
				if f.Kind == wire.FieldString {
					fmt.Println(f.Str)
				}
			}
			return nil
		},
	}
}
