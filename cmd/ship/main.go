// Command ship runs the Ship-side proxy: it accepts local HTTP/HTTPS proxy
// clients and serializes their requests over a single persistent uplink to
// an offshore peer.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/shipoffshore/tunnel/internal/shipside"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagOffshoreHost   string
	flagOffshorePort   int
	flagListenPort     int
	flagRequestTimeout time.Duration
	flagDebug          bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("ship: fatal error")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ship",
	Short: "Ship-side HTTP proxy tunnel endpoint",
	Long: `ship accepts ordinary HTTP/HTTPS proxy requests on a local port and
serializes them over a single persistent TCP uplink to an offshore peer.`,
	RunE: runShip,
}

func init() {
	rootCmd.Flags().StringVar(&flagOffshoreHost, "offshore-host", "127.0.0.1", "offshore peer host")
	rootCmd.Flags().IntVar(&flagOffshorePort, "offshore-port", 9000, "offshore peer port")
	rootCmd.Flags().IntVar(&flagListenPort, "listen-port", 8080, "local proxy listen port")
	rootCmd.Flags().DurationVar(&flagRequestTimeout, "request-timeout", 0, "per-request timeout (0 disables)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func runShip(cmd *cobra.Command, args []string) error {
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "01-02 15:04:05"})

	bold := color.New(color.Bold, color.FgHiCyan).SprintFunc()
	fmt.Printf("%s listening on :%d, offshore at %s:%d\n",
		bold("ship"), flagListenPort, flagOffshoreHost, flagOffshorePort)

	s, err := shipside.NewServer(shipside.Options{
		ListenAddr:     net.JoinHostPort("0.0.0.0", strconv.Itoa(flagListenPort)),
		OffshoreAddr:   net.JoinHostPort(flagOffshoreHost, strconv.Itoa(flagOffshorePort)),
		RequestTimeout: flagRequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("ship: failed to start: %w", err)
	}

	s.Run()
	return nil
}
