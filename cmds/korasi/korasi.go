// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command korasi provisions an ephemeral cloud instance, syncs a local
// workspace onto it, runs work against it over one SSH connection, and
// tears it down.
//
// Usage:
//
//	korasi [flags] run <command...>
//	korasi [flags] upload <src> [dst]
//	korasi [flags] shell
//	korasi [flags] tunnel <local-port> <remote-host:port>
//	korasi [flags] list
//	korasi [flags] down
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	korasi "github.com/Vui-Chee/korasi"
	"github.com/Vui-Chee/korasi/client"
	"github.com/Vui-Chee/korasi/internal/logging"
	"github.com/Vui-Chee/korasi/launch"
)

var (
	profile      = flag.String("profile", "default", "AWS credentials profile (from ~/.aws/credentials)")
	region       = flag.String("region", "ap-southeast-1", "region to launch the instance in")
	ami          = flag.String("ami", "", "image id to launch")
	instanceType = flag.String("instance-type", "t3.micro", "instance type, e.g. t4g.small for arm64")
	setup        = flag.String("setup", "", "path to a boot script run on first start")
	keyFile      = flag.String("key", "", "private key file (default: ssh_config, then ~/.ssh/korasi.pem)")
	keep         = flag.Bool("keep", false, "keep the instance running after this invocation")
	reuse        = flag.Bool("instance", false, "connect to the instance kept by a previous --keep")
	ignore       = flag.StringArray("ignore", nil, "glob pattern to exclude from uploads (repeatable)")
	debug        = flag.BoolP("debug", "d", false, "enable debug logs")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: korasi [flags] <run|upload|shell|tunnel|list|down> [args]\n\nFlags:\n%s", flag.CommandLine.FlagUsages())
	os.Exit(korasi.ExitInternal)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level}); err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(korasi.ExitInternal)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := launch.LoadAWSConfig(ctx, *profile, *region)
	if err != nil {
		logging.Error("aws config", zap.Error(err))
		os.Exit(korasi.ExitProvision)
	}
	api := launch.NewEC2(awsCfg)

	switch args[0] {
	case "down":
		os.Exit(down(ctx, api))
	case "list":
		os.Exit(list(ctx, api))
	}

	cfg, err := buildConfig(ctx, api)
	if err != nil {
		logging.Error("setup", zap.Error(err))
		os.Exit(korasi.ExitProvision)
	}
	orch := korasi.New(api, cfg)

	runErr := invoke(ctx, orch, args)

	// Teardown gets its own deadline: the signal that cancelled the
	// work must not cancel the cleanup.
	tearCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := orch.Teardown(tearCtx); err != nil {
		logging.Error("teardown failed", zap.Error(err))
	}

	if runErr != nil {
		logging.Error("invocation failed", zap.Error(runErr))
	}
	os.Exit(korasi.ExitCode(runErr))
}

// buildConfig bootstraps the shared key pair and security group, then
// assembles the invocation config.
func buildConfig(ctx context.Context, api *launch.EC2) (korasi.Config, error) {
	cfg := korasi.Config{
		Region:  *region,
		Profile: *profile,
		KeyFile: *keyFile,
		Keep:    *keep,
		Reuse:   *reuse,
		Ignore:  *ignore,
	}
	if *reuse {
		return cfg, nil
	}
	if *ami == "" {
		return cfg, fmt.Errorf("--ami is required to launch an instance")
	}

	keyPath := *keyFile
	if keyPath == "" {
		keyPath = client.DefaultKeyFile
	}
	keyName, err := api.EnsureKeyPair(ctx, keyPath)
	if err != nil {
		return cfg, err
	}
	sg, err := api.EnsureSSHIngress(ctx)
	if err != nil {
		return cfg, err
	}

	var userData string
	if *setup != "" {
		b, err := os.ReadFile(*setup)
		if err != nil {
			return cfg, fmt.Errorf("setup script: %w", err)
		}
		userData = base64.StdEncoding.EncodeToString(b)
	}

	cfg.Spec = launch.Spec{
		ImageID:          *ami,
		InstanceType:     *instanceType,
		KeyName:          keyName,
		SecurityGroupIDs: []string{sg},
		UserData:         userData,
	}
	return cfg, nil
}

// invoke provisions and runs the requested subcommand.
func invoke(ctx context.Context, orch *korasi.Orchestrator, args []string) error {
	if err := checkArgs(args); err != nil {
		return err
	}
	if err := orch.Provision(ctx); err != nil {
		return err
	}
	switch args[0] {
	case "run":
		return orch.Run(ctx, strings.Join(args[1:], " "))
	case "upload":
		dst := ""
		if len(args) > 2 {
			dst = args[2]
		}
		return orch.Upload(ctx, args[1], dst)
	case "shell":
		return orch.Shell(ctx)
	case "tunnel":
		return orch.Tunnel(ctx, net.JoinHostPort("127.0.0.1", args[1]), args[2])
	}
	return fmt.Errorf("unknown subcommand %q", args[0])
}

func checkArgs(args []string) error {
	switch args[0] {
	case "run":
		if len(args) < 2 {
			return fmt.Errorf("run needs a command")
		}
	case "upload":
		if len(args) < 2 {
			return fmt.Errorf("upload needs a source path")
		}
	case "tunnel":
		if len(args) != 3 {
			return fmt.Errorf("tunnel needs <local-port> <remote-host:port>")
		}
	case "shell":
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
	return nil
}

// list prints this tool's instances, whatever state they are in.
func list(ctx context.Context, api *launch.EC2) int {
	sums, err := api.List(ctx)
	if err != nil {
		logging.Error("list failed", zap.Error(err))
		return korasi.ExitProvision
	}
	if len(sums) == 0 {
		fmt.Println("no instances")
		return korasi.ExitOK
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tADDRESS")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.State, s.Address)
	}
	w.Flush()
	return korasi.ExitOK
}

// down terminates the instance cached by a previous --keep.
func down(ctx context.Context, api *launch.EC2) int {
	cached, err := launch.LoadCached()
	if err != nil {
		logging.Error("instance cache", zap.Error(err))
		return korasi.ExitInternal
	}
	if cached == nil {
		logging.Info("no cached instance, nothing to do")
		return korasi.ExitOK
	}
	ctrl := launch.NewController(api)
	ctrl.Adopt(&launch.Instance{ID: cached.ID, PublicAddress: cached.Address, State: launch.Ready})
	if err := ctrl.Teardown(ctx); err != nil {
		logging.Error("teardown failed", zap.Error(err))
		return korasi.ExitProvision
	}
	if err := launch.ClearCached(); err != nil {
		logging.Warn("clearing instance cache", zap.Error(err))
	}
	logging.Info("instance terminated", zap.String("id", cached.ID),
		zap.Duration("alive", time.Since(cached.CreatedAt).Round(time.Second)))
	return korasi.ExitOK
}
