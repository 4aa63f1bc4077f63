package dispatch

import (
	"encoding/json"

	"github.com/ChuLiYu/jers/internal/journal"
	"github.com/ChuLiYu/jers/pkg/model"
)

func (d *Dispatch) AddResource(uid int, spec ResourceSpec, replaying bool) error {
	if err := d.Store.AddResource(&model.Resource{Name: spec.Name, Count: spec.Count}); err != nil {
		return err
	}
	payload, _ := json.Marshal(addResourcePayload{Spec: spec})
	return d.appendRecord(replaying, uid, journal.CmdAddResource, 0, 0, string(payload))
}

func resourceMutator(delta ResourceDelta) func(*model.Resource) error {
	return func(r *model.Resource) error {
		if delta.Count != nil {
			r.Count = *delta.Count
		}
		return nil
	}
}

func (d *Dispatch) ModResource(uid int, name string, delta ResourceDelta, replaying bool) error {
	if err := d.Store.ModResource(name, resourceMutator(delta)); err != nil {
		return err
	}
	payload, _ := json.Marshal(modResourcePayload{Name: name, Delta: delta})
	return d.appendRecord(replaying, uid, journal.CmdModResource, 0, 0, string(payload))
}

func (d *Dispatch) DelResource(uid int, name string, replaying bool) error {
	if err := d.Store.DelResource(name); err != nil {
		return err
	}
	payload, _ := json.Marshal(delResourcePayload{Name: name})
	return d.appendRecord(replaying, uid, journal.CmdDelResource, 0, 0, string(payload))
}

func (d *Dispatch) GetResource(name string) (*model.Resource, bool) {
	return d.Store.GetResource(name)
}

func (d *Dispatch) ListResources() []*model.Resource {
	return d.Store.ListResources()
}
