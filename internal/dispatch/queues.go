package dispatch

import (
	"encoding/json"

	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/pkg/model"
)

func (d *Dispatch) AddQueue(uid int, spec QueueSpec, replaying bool) error {
	if err := d.addQueueReplay(spec); err != nil {
		return err
	}
	payload, _ := json.Marshal(addQueuePayload{Spec: spec})
	return d.appendRecord(replaying, uid, journal.CmdAddQueue, 0, 0, string(payload))
}

func (d *Dispatch) addQueueReplay(spec QueueSpec) error {
	q := &model.Queue{
		Name:        spec.Name,
		Description: spec.Description,
		Host:        spec.Host,
		JobLimit:    spec.JobLimit,
		Priority:    spec.Priority,
		Def:         spec.Def,
		ACL:         spec.ACL,
		State:       model.QueueOpen,
	}
	return d.Store.AddQueue(q)
}

func queueMutator(delta QueueDelta) func(*model.Queue) error {
	return func(q *model.Queue) error {
		if delta.Description != nil {
			q.Description = *delta.Description
		}
		if delta.JobLimit != nil {
			q.JobLimit = *delta.JobLimit
		}
		if delta.Priority != nil {
			q.Priority = *delta.Priority
		}
		if delta.Started != nil {
			if *delta.Started {
				q.State |= model.QueueStarted
			} else {
				q.State &^= model.QueueStarted
			}
		}
		if delta.Open != nil {
			if *delta.Open {
				q.State |= model.QueueOpen
			} else {
				q.State &^= model.QueueOpen
			}
		}
		return nil
	}
}

func (d *Dispatch) ModQueue(uid int, name string, delta QueueDelta, replaying bool) error {
	if err := d.Store.ModQueue(name, queueMutator(delta)); err != nil {
		return err
	}
	payload, _ := json.Marshal(modQueuePayload{Name: name, Delta: delta})
	return d.appendRecord(replaying, uid, journal.CmdModQueue, 0, 0, string(payload))
}

func (d *Dispatch) DelQueue(uid int, name string, replaying bool) error {
	if err := d.Store.DelQueue(name); err != nil {
		return err
	}
	payload, _ := json.Marshal(delQueuePayload{Name: name})
	return d.appendRecord(replaying, uid, journal.CmdDelQueue, 0, 0, string(payload))
}

func (d *Dispatch) GetQueue(name string) (*model.Queue, bool) {
	return d.Store.GetQueue(name)
}

func (d *Dispatch) ListQueues() []*model.Queue {
	return d.Store.ListQueues()
}
