// Package cli defines the Cobra commands for gate-open, a one-shot helper
// that lists doors or unlocks one directly against the Access controller.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowpbx/gatebridge/internal/unifi"
)

const defaultTokenEnv = "UNIFI_ACCESS_API_TOKEN"

// connFlags are shared by every subcommand.
type connFlags struct {
	host     string
	port     int
	token    string
	tokenEnv string
	timeout  float64
	insecure bool
}

// NewRootCommand builds the gate-open command tree writing results to
// out and diagnostics to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	var conn connFlags

	root := &cobra.Command{
		Use:           "gate-open",
		Short:         "UniFi Access developer API helper",
		Long:          "List doors visible to an Access API token, or unlock one by id or name.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&conn.host, "host", "", "controller hostname or IP")
	pf.IntVar(&conn.port, "port", unifi.DefaultPort, "Access API port")
	pf.StringVar(&conn.token, "token", "", "API token (prefer --token-env with a protected environment variable)")
	pf.StringVar(&conn.tokenEnv, "token-env", defaultTokenEnv, "environment variable that stores the API token")
	pf.Float64Var(&conn.timeout, "timeout", unifi.DefaultTimeout.Seconds(), "HTTP timeout in seconds")
	pf.BoolVar(&conn.insecure, "insecure", false, "disable TLS certificate verification")
	_ = root.MarkPersistentFlagRequired("host")

	root.AddCommand(newListDoorsCommand(&conn))
	root.AddCommand(newUnlockCommand(&conn))
	return root
}

// Execute runs gate-open with args and returns the process exit code.
func Execute(args []string, out, errOut io.Writer) int {
	root := NewRootCommand(out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(errOut, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

// client builds an Access client from the shared flags.
func (c *connFlags) client(errOut io.Writer) (*unifi.Client, error) {
	token, err := c.loadToken()
	if err != nil {
		return nil, err
	}
	if c.timeout <= 0 {
		return nil, errors.New("--timeout must be greater than zero")
	}
	return unifi.NewClient(unifi.Options{
		Host:        c.host,
		Port:        c.port,
		Token:       token,
		Timeout:     time.Duration(c.timeout * float64(time.Second)),
		InsecureTLS: c.insecure,
		Logger:      slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelError})),
	}), nil
}

func (c *connFlags) loadToken() (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	if token := os.Getenv(c.tokenEnv); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("API token not found. Pass --token or set the environment variable %s.", c.tokenEnv)
}

// printResponse writes resp as indented JSON with sorted keys, or a short
// acknowledgement when the controller returned nothing.
func printResponse(w io.Writer, resp map[string]any) error {
	if len(resp) == 0 {
		_, err := fmt.Fprintln(w, "Request accepted.")
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
