/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/michaelquigley/pfxlog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xrpc-go/xrpc"
)

var serveFlags struct {
	bind            string
	shutdownTimeout time.Duration
	demo            bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server described by the configuration file and serve until
interrupted. On SIGINT or SIGTERM in-flight requests are given the shutdown
timeout to complete.

Examples:
  xrpcd serve --config /etc/xrpc/xrpc.yml
  xrpcd serve --bind 127.0.0.1:9443 --demo`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.bind, "bind", "", "override the bind address")
	serveCmd.Flags().DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight requests on shutdown")
	serveCmd.Flags().BoolVar(&serveFlags.demo, "demo", false, "register the greeter demo service")
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	if serveFlags.bind != "" {
		config.Bind = serveFlags.bind
	}

	server, err := xrpc.NewServer(config)
	if err != nil {
		return err
	}

	if serveFlags.demo {
		if err = xrpc.AddService(server, newGreeterService()); err != nil {
			return errors.Wrap(err, "unable to register greeter service")
		}
	}

	if err = server.ListenAndServe(); err != nil {
		return err
	}

	log := pfxlog.Logger()
	log.Infof("serving at %s", server.LocalEndpoint())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		log.Infof("received %v, shutting down", sig)
	case <-server.Done():
		if err = server.Err(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), serveFlags.shutdownTimeout)
	defer cancel()

	return server.Shutdown(ctx)
}
