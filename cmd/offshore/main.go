// Command offshore runs the Offshore-side peer: it accepts the Ship's
// persistent uplink connection, executes outbound HTTP requests, and dials
// CONNECT targets on the public Internet.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/shipoffshore/tunnel/internal/httpexec"
	"github.com/shipoffshore/tunnel/internal/offshoreside"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagHost        string
	flagPort        int
	flagHTTPTimeout time.Duration
	flagDebug       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("offshore: fatal error")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "offshore",
	Short: "Offshore-side HTTP proxy tunnel endpoint",
	Long: `offshore accepts the Ship's persistent uplink connection and executes
outbound HTTP requests and CONNECT tunnels on its behalf.`,
	RunE: runOffshore,
}

func init() {
	rootCmd.Flags().StringVar(&flagHost, "host", "0.0.0.0", "listen host")
	rootCmd.Flags().IntVar(&flagPort, "port", 9000, "listen port")
	rootCmd.Flags().DurationVar(&flagHTTPTimeout, "http-timeout", 60*time.Second, "outbound HTTP request timeout")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func runOffshore(cmd *cobra.Command, args []string) error {
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "01-02 15:04:05"})

	bold := color.New(color.Bold, color.FgHiGreen).SprintFunc()
	fmt.Printf("%s listening on %s:%d\n", bold("offshore"), flagHost, flagPort)

	s, err := offshoreside.NewServer(net.JoinHostPort(flagHost, strconv.Itoa(flagPort)), httpexec.NewStdlibExecutor(flagHTTPTimeout))
	if err != nil {
		return fmt.Errorf("offshore: failed to start: %w", err)
	}

	s.Run()
	return nil
}
