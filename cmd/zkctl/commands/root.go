// Package commands implements the zkctl CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbrennan-zk/zkcore/internal/zk"
)

var (
	// hostsFlag is the comma-separated ensemble host list.
	hostsFlag string

	// timeoutFlag is the requested session timeout.
	timeoutFlag time.Duration

	// connectWaitFlag bounds how long a command waits for the initial
	// CONNECTED transition before giving up.
	connectWaitFlag time.Duration

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// errConnectTimeout is returned when the session does not reach
// StateConnected within connectWaitFlag.
var errConnectTimeout = errors.New("timed out waiting for session to connect")

// rootCmd is the top-level cobra command for zkctl.
var rootCmd = &cobra.Command{
	Use:   "zkctl",
	Short: "One-shot CLI client for a zkcore coordination ensemble",
	Long:  "zkctl opens a session, performs a single operation against the ensemble, and exits.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&hostsFlag, "hosts", "127.0.0.1:2181",
		"comma-separated ensemble host list (host:port,host:port,...)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "session-timeout", 10*time.Second,
		"requested session timeout")
	rootCmd.PersistentFlags().DurationVar(&connectWaitFlag, "connect-wait", 5*time.Second,
		"how long to wait for the initial connection before giving up")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(lsCmd())
	rootCmd.AddCommand(statCmd())
	rootCmd.AddCommand(addAuthCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openSession parses --hosts, opens a Session, and blocks until it
// either reaches StateConnected or connectWaitFlag elapses.
func openSession() (*zk.Session, error) {
	hosts := strings.Split(hostsFlag, ",")
	for i, h := range hosts {
		hosts[i] = strings.TrimSpace(h)
	}

	sess, err := zk.NewSession(hosts, nil, timeoutFlag, nil)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectWaitFlag)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sess.State() == zk.StateConnected {
			return sess, nil
		}
		if sess.State().Terminal() {
			_ = sess.Close()
			return nil, fmt.Errorf("session reached terminal state %s before connecting", sess.State())
		}
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return nil, errConnectTimeout
		case <-ticker.C:
		}
	}
}
