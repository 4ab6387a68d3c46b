// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package korasi composes provisioning, synchronization and the remote
// session into one invocation: provision, sync, execute, tear down.
package korasi

import (
	"context"
	"errors"
	"os"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vui-Chee/korasi/client"
	"github.com/Vui-Chee/korasi/internal/logging"
	"github.com/Vui-Chee/korasi/internal/retry"
	"github.com/Vui-Chee/korasi/launch"
	"github.com/Vui-Chee/korasi/workspace"
)

// Config carries everything one invocation needs.
type Config struct {
	// Spec is the instance to launch. Ignored when Reuse is set.
	Spec launch.Spec
	// Region and Profile are recorded in the instance cache.
	Region  string
	Profile string
	// KeyFile is the private key for the session; empty uses the
	// ssh_config / default discovery chain.
	KeyFile string
	// Keep skips teardown and caches the instance for a later `down`.
	Keep bool
	// Reuse connects to the cached instance instead of launching.
	Reuse bool
	// Ignore patterns for upload planning.
	Ignore []string
	// BootTimeout overrides the controller default when non-zero.
	BootTimeout time.Duration
	// DialBackoff overrides the session dial backoff, mainly for tests.
	DialBackoff *retry.Backoff
}

// Orchestrator owns the Instance and Session for one invocation. No
// other component holds either; everything is passed down from here.
type Orchestrator struct {
	cfg  Config
	ctrl *launch.Controller
	sess *client.Session
}

// New builds an orchestrator over a provisioning API.
func New(api launch.API, cfg Config) *Orchestrator {
	ctrl := launch.NewController(api)
	if cfg.BootTimeout != 0 {
		ctrl.BootTimeout = cfg.BootTimeout
	}
	return &Orchestrator{cfg: cfg, ctrl: ctrl}
}

// Session exposes the live session, for the phases that need it.
func (o *Orchestrator) Session() *client.Session { return o.sess }

// Provision acquires an instance (fresh or cached) and dials the
// session. After a successful launch the instance is registered for
// teardown no matter what happens next.
func (o *Orchestrator) Provision(ctx context.Context) error {
	var inst *launch.Instance
	if o.cfg.Reuse {
		cached, err := launch.LoadCached()
		if err != nil {
			return err
		}
		if cached == nil {
			return errors.New("no cached instance -- launch one without --instance first")
		}
		inst = &launch.Instance{ID: cached.ID, PublicAddress: cached.Address, State: launch.Ready}
		o.ctrl.Adopt(inst)
		logging.Info("reusing cached instance", zap.String("id", inst.ID))
	} else {
		labels := map[string]string{
			"Name":       petname.Generate(2, "-"),
			"invocation": uuid.NewString(),
		}
		var err error
		inst, err = o.ctrl.Provision(ctx, o.cfg.Spec, labels)
		if err != nil {
			return err
		}
	}

	sess, err := client.Dial(ctx, client.Options{
		Host:           inst.PublicAddress,
		PrivateKeyFile: o.cfg.KeyFile,
		Backoff:        o.cfg.DialBackoff,
	})
	if err != nil {
		return err
	}
	o.sess = sess
	return nil
}

// Run executes one remote command, streaming the local stdio.
func (o *Orchestrator) Run(ctx context.Context, cmdline string) error {
	cmd := o.sess.Command(cmdline)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run(ctx)
}

// Upload plans and transfers src onto the instance. Planning finishes
// before the first remote write, so a bad plan mutates nothing.
func (o *Orchestrator) Upload(ctx context.Context, src, dst string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	remoteHome, err := o.sess.RemoteHome()
	if err != nil {
		return err
	}
	planner := &workspace.Planner{
		Mapper: &workspace.Mapper{
			Workspace:  cwd,
			LocalHome:  home,
			RemoteHome: remoteHome,
			Dest:       dst,
			StatDir:    o.sess.StatDir,
		},
		Filter: workspace.NewGlobFilter(o.cfg.Ignore...),
	}
	plan, err := planner.Plan(src)
	if err != nil {
		return err
	}
	logging.Info("uploading", zap.String("src", src), zap.Int("items", len(plan.Items)))
	return o.sess.Upload(ctx, plan)
}

// Shell attaches an interactive shell.
func (o *Orchestrator) Shell(ctx context.Context) error {
	return o.sess.Shell(ctx)
}

// Tunnel forwards a local port to a remote address until ctx ends.
func (o *Orchestrator) Tunnel(ctx context.Context, localAddr, remoteAddr string) error {
	f, err := o.sess.Listen(localAddr, remoteAddr)
	if err != nil {
		return err
	}
	logging.Info("tunnel up", zap.String("local", f.Addr().String()), zap.String("remote", remoteAddr))
	err = f.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Teardown closes the session and terminates the instance, exactly
// once. With Keep set the instance survives and its identity is cached
// for a later invocation's `down`.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	if o.sess != nil {
		if err := o.sess.Close(); err != nil {
			logging.Debug("session close", zap.Error(err))
		}
	}
	inst := o.ctrl.Instance()
	if inst == nil {
		return nil
	}
	if o.cfg.Keep {
		logging.Info("keeping instance", zap.String("id", inst.ID))
		return launch.SaveCached(launch.Cached{
			ID:        inst.ID,
			Address:   inst.PublicAddress,
			Region:    o.cfg.Region,
			Profile:   o.cfg.Profile,
			CreatedAt: time.Now(),
		})
	}
	if err := o.ctrl.Teardown(ctx); err != nil {
		return err
	}
	if o.cfg.Reuse {
		if err := launch.ClearCached(); err != nil {
			logging.Warn("clearing instance cache", zap.Error(err))
		}
	}
	return nil
}
