package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot the fleet controller and block until terminated",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve is also rootCmd's own RunE: invoking the binary with no
// subcommand boots the fleet.
func serve(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	controller = c

	if err := controller.Start(ctx); err != nil {
		return err
	}
	logrus.Info("[APP] fleet controller started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logrus.Info("[APP] reception of termination signal, shutting down gracefully...")
	StopApp()
	return nil
}
