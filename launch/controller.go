// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package launch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vui-Chee/korasi/internal/logging"
)

const (
	// DefaultBootTimeout bounds the Booting phase.
	DefaultBootTimeout = 3 * time.Minute
	// DefaultPollInterval paces the sequential Describe polls.
	DefaultPollInterval = 5 * time.Second
)

// Controller owns the instance lifecycle for one invocation. Once
// Provision has issued a launch, Teardown is attempted exactly once no
// matter what happens in between, unless the caller keeps the instance.
type Controller struct {
	api          API
	BootTimeout  time.Duration
	PollInterval time.Duration

	mu       sync.Mutex
	inst     *Instance
	tornDown bool
}

// NewController returns a Controller over the given provisioning API.
func NewController(api API) *Controller {
	return &Controller{
		api:          api,
		BootTimeout:  DefaultBootTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Instance returns the instance launched by this controller, or nil.
func (c *Controller) Instance() *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inst
}

// Adopt registers an already-running instance (a kept one from a prior
// invocation) with the controller so Teardown applies to it.
func (c *Controller) Adopt(inst *Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inst = inst
}

// Provision launches an instance, applies labels, and polls it until it
// is reachable or the boot deadline passes. Polling is strictly
// sequential so one invocation never double-provisions. On timeout the
// instance stays registered so Teardown can still reach it.
func (c *Controller) Provision(ctx context.Context, spec Spec, labels map[string]string) (*Instance, error) {
	id, err := c.api.Launch(ctx, spec)
	if err != nil {
		return nil, &ProvisionError{Err: err}
	}
	inst := &Instance{ID: id, State: Provisioning}
	c.mu.Lock()
	c.inst = inst
	c.mu.Unlock()
	logging.Info("instance launched", zap.String("id", id))

	if len(labels) != 0 {
		if err := c.api.Tag(ctx, id, labels); err != nil {
			logging.Warn("tagging failed", zap.String("id", id), zap.Error(err))
		}
	}

	inst.State = Booting
	deadline := time.Now().Add(c.BootTimeout)
	for {
		st, err := c.api.Describe(ctx, id)
		if err == nil && st.State == Ready && st.Address != "" {
			inst.State = Ready
			inst.PublicAddress = st.Address
			logging.Info("instance ready", zap.String("id", id), zap.String("address", st.Address))
			return inst, nil
		}
		if err != nil {
			logging.Debug("describe failed, will poll again", zap.Error(err))
		}
		if time.Now().After(deadline) {
			return inst, &ProvisionError{ID: id, Err: ErrBootTimeout}
		}
		select {
		case <-ctx.Done():
			return inst, &ProvisionError{ID: id, Err: ctx.Err()}
		case <-time.After(c.PollInterval):
		}
	}
}

// Teardown terminates the instance. It is a no-op when nothing was
// launched and is guaranteed to issue at most one terminate request per
// controller, whatever mix of failures preceded it.
func (c *Controller) Teardown(ctx context.Context) error {
	c.mu.Lock()
	inst := c.inst
	done := c.tornDown
	c.tornDown = true
	c.mu.Unlock()

	if inst == nil || done {
		return nil
	}
	inst.State = Terminating
	logging.Info("terminating instance", zap.String("id", inst.ID))
	if err := c.api.Terminate(ctx, inst.ID); err != nil {
		return &TeardownError{ID: inst.ID, Err: err}
	}
	inst.State = Terminated
	return nil
}
