/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runnable adapts long-running servers to controller-runtime's Runnable contract so the prioserve runner can
// start and stop them uniformly.
package runnable

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
)

// GRPCServer converts the given gRPC server into a runnable.
// The server name is just being used for logging.
func GRPCServer(name string, srv *grpc.Server, port int) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		var lc net.ListenConfig
		lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("gRPC server failed to listen - %w", err)
		}
		return serveGRPC(ctx, name, srv, lis)
	})
}

// GRPCServerOnListener is GRPCServer for an already bound listener.
func GRPCServerOnListener(name string, srv *grpc.Server, lis net.Listener) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		return serveGRPC(ctx, name, srv, lis)
	})
}

func serveGRPC(ctx context.Context, name string, srv *grpc.Server, lis net.Listener) error {
	// Use "name" key as that is what manager.Server does as well.
	logger := log.FromContext(ctx).WithValues("name", name)
	logger.Info("gRPC server listening", "address", lis.Addr().String())

	// Terminate the server on context closed.
	// Make sure the goroutine does not leak.
	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("gRPC server shutting down")
			srv.GracefulStop()
		case <-doneCh:
		}
	}()

	// Keep serving until terminated.
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed - %w", err)
	}
	logger.Info("gRPC server terminated")
	return nil
}
