// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package services

import "context"

// RunnerService adapts a blocking, context-canceled, no-error Run(ctx)
// method into suture.Service. Several domain components follow this
// shape directly - internal/p2pchannel.Channel.Run, internal/edgechannel.Client.Run,
// internal/outbox.Drainer.Run - since none of them have a failure mode
// distinct from "context canceled", unlike HTTPServerService's
// ListenAndServe, which can fail independently of shutdown.
type RunnerService struct {
	run  func(ctx context.Context)
	name string
}

// NewRunnerService wraps run under name for supervisor logging.
func NewRunnerService(name string, run func(ctx context.Context)) *RunnerService {
	return &RunnerService{run: run, name: name}
}

// Serve implements suture.Service.
func (r *RunnerService) Serve(ctx context.Context) error {
	r.run(ctx)
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (r *RunnerService) String() string {
	return r.name
}
