package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftglass/bidigo/pkg/bidi"
	"github.com/driftglass/bidigo/pkg/launcher"
	"github.com/driftglass/bidigo/pkg/logging"
	"github.com/driftglass/bidigo/pkg/wsconn"
)

var launchHeadless bool

var launchCmd = &cobra.Command{
	Use:   "launch <binary>",
	Short: "Launch a browser binary, connect to its BiDi socket, and stream its traffic",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaunch,
}

func init() {
	launchCmd.Flags().BoolVar(&launchHeadless, "headless", true, "launch the browser headless")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	logger, closer, err := logging.New(logging.Options{Level: resolvedLogLevel(), ReportTime: true})
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	l := launcher.New(args[0])
	l.Headless = launchHeadless

	wsURL, err := l.Launch(ctx)
	if err != nil {
		return fmt.Errorf("bidigo launch: %w", err)
	}
	logger.Info("browser launched", "ws_url", wsURL)

	conn := wsconn.New(logger)
	transport := bidi.New(resolvedCommandTimeout(), conn, logger)

	transport.OnEvent.Add(func(e bidi.EventReceived) {
		fmt.Fprintf(os.Stdout, "event %s: %+v\n", e.Name, e.Payload)
	})

	if err := transport.Connect(ctx, wsURL); err != nil {
		return fmt.Errorf("bidigo launch: connect: %w", err)
	}
	defer transport.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return l.Close(context.Background(), "")
}
