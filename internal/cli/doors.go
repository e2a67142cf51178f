package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowpbx/gatebridge/internal/unifi"
)

func newListDoorsCommand(conn *connFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-doors",
		Short: "List doors available to this API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := conn.client(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			resp, err := client.ListDoorsRaw(cmd.Context())
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

type unlockFlags struct {
	doorID    string
	doorName  string
	actorID   string
	actorName string
	extraJSON string
}

func newUnlockCommand(conn *connFlags) *cobra.Command {
	var f unlockFlags

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock a door",
		Long: `Unlock a door by id, or resolve --door-name first. Names match exact
name, then exact full name, then a substring of either, ignoring case.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra map[string]any
			if cmd.Flags().Changed("extra-json") {
				var err error
				if extra, err = parseExtra(f.extraJSON); err != nil {
					return err
				}
			}

			client, err := conn.client(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			doorID := f.doorID
			if doorID == "" {
				if doorID, err = client.FindDoorID(cmd.Context(), f.doorName); err != nil {
					return err
				}
			}

			resp, err := client.Unlock(cmd.Context(), doorID, unifi.UnlockOptions{
				ActorID:   f.actorID,
				ActorName: f.actorName,
				Extra:     extra,
			})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.doorID, "door-id", "", "Access door UUID")
	fl.StringVar(&f.doorName, "door-name", "Gate", "door name (or full name substring) to resolve when --door-id is not set")
	fl.StringVar(&f.actorID, "actor-id", "", "actor ID for Access logs and webhooks")
	fl.StringVar(&f.actorName, "actor-name", "", "actor name for Access logs and webhooks")
	fl.StringVar(&f.extraJSON, "extra-json", "", "JSON object passed through as the extra payload")
	return cmd
}

// parseExtra decodes --extra-json, which must be a JSON object.
func parseExtra(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("Invalid --extra-json: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("--extra-json must decode to a JSON object")
	}
	return obj, nil
}
