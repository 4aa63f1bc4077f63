// Package notify implements the per-job email notification ambient
// collaborator of spec.md §1/§9: a job may request an email on
// completion. NotifyJobFinished sends synchronously on the caller's
// goroutine; the event loop calls it inline when a job finishes, so
// the send runs on the loop goroutine. Disabled during journal
// replay, matching spec.md §9's source-quirk note that replay must
// not resend notifications already sent before a crash. No example
// repo in this codebase's corpus ships an email client, so this uses
// the standard library's net/smtp directly (see DESIGN.md).
package notify

import (
	"fmt"
	"net/smtp"

	"github.com/ChuLiYu/jers/pkg/model"
)

// Notifier sends a completion notification for job. Replaying is true
// when called from internal/recovery's journal replay, in which case
// implementations must no-op.
type Notifier interface {
	NotifyJobFinished(job *model.Job, replaying bool) error
}

// SMTPNotifier sends one plain-text email per finished job via a
// configured relay.
type SMTPNotifier struct {
	Addr     string
	From     string
	Auth     smtp.Auth
	Resolver func(uid int) (address string, err error)
}

func NewSMTPNotifier(addr, from string, auth smtp.Auth, resolver func(int) (string, error)) *SMTPNotifier {
	return &SMTPNotifier{Addr: addr, From: from, Auth: auth, Resolver: resolver}
}

func (n *SMTPNotifier) NotifyJobFinished(job *model.Job, replaying bool) error {
	if replaying {
		return nil
	}
	to, err := n.Resolver(job.SubmitterUID)
	if err != nil {
		return fmt.Errorf("notify: resolve recipient for uid %d: %w", job.SubmitterUID, err)
	}

	subject := fmt.Sprintf("Job %d (%s) %s", job.JobID, job.Name, job.State)
	body := fmt.Sprintf("Job %d finished.\nQueue: %s\nExit code: %d\nSignal: %d\n", job.JobID, job.Queue, job.ExitCode, job.Signal)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.From, to, subject, body)

	return smtp.SendMail(n.Addr, n.Auth, n.From, []string{to}, []byte(msg))
}

// NoopNotifier discards every notification; used when no mail relay
// is configured (mail_server unset, spec.md §6).
type NoopNotifier struct{}

func (NoopNotifier) NotifyJobFinished(*model.Job, bool) error { return nil }
