/*
Copyright 2023 The Nuclio Authors.

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

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals runs control operations on signals until ctx is done: SIGTERM stops,
// SIGINT kills, SIGHUP reloads the configuration cache and SIGUSR2 restarts
func (d *Daemon) HandleSignals(ctx context.Context) {
	signalChan := make(chan os.Signal, 4)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR2)
	defer signal.Stop(signalChan)

	for {
		select {
		case <-ctx.Done():
			return
		case received := <-signalChan:
			d.logger.InfoWith("Received signal", "signal", received.String())
			go d.onSignal(ctx, received)
		}
	}
}

func (d *Daemon) onSignal(ctx context.Context, received os.Signal) {
	var err error

	switch received {
	case syscall.SIGTERM:
		err = d.Stop(ctx)
	case syscall.SIGINT:
		err = d.Kill(ctx, true)
	case syscall.SIGHUP:
		d.Reload("")
	case syscall.SIGUSR2:
		err = d.Restart(ctx)
	}

	if err != nil {
		d.logger.ErrorWith("Signal handling failed", "signal", received.String(), "err", err.Error())
	}
}
