package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftglass/bidigo/pkg/bidi"
	"github.com/driftglass/bidigo/pkg/logging"
	"github.com/driftglass/bidigo/pkg/wsconn"
)

var connectCmd = &cobra.Command{
	Use:   "connect <ws-url>",
	Short: "Connect to a running BiDi remote end and stream its traffic",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, closer, err := logging.New(logging.Options{Level: resolvedLogLevel(), ReportTime: true})
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	conn := wsconn.New(logger)
	transport := bidi.New(resolvedCommandTimeout(), conn, logger)

	transport.OnEvent.Add(func(e bidi.EventReceived) {
		fmt.Fprintf(os.Stdout, "event %s: %+v\n", e.Name, e.Payload)
	})
	transport.OnUnknown.Add(func(raw string) {
		logger.Warn("unrecognized frame", "raw", raw)
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := transport.Connect(ctx, args[0]); err != nil {
		return fmt.Errorf("bidigo connect: %w", err)
	}
	defer transport.Disconnect()

	logger.Info("connected", "url", args[0])

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return nil
}
