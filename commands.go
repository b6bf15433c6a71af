package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	jwtCmd = &cobra.Command{
		Use:   "jwt",
		Short: "Sign an App JWT and print it with its issue and expiry times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadServices()
			if err != nil {
				return err
			}
			signed, err := svc.app.SignJWT()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"token":     signed.Token,
				"iat":       signed.IssuedAt,
				"exp":       signed.ExpiresAt,
				"expiresAt": time.Unix(signed.ExpiresAt, 0).UTC().Format(time.RFC3339),
			})
		},
	}

	installationsCmd = &cobra.Command{
		Use:   "installations",
		Short: "List the App's installations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadServices()
			if err != nil {
				return err
			}
			installations, err := svc.app.ListInstallations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, installations)
		},
	}

	dispatchRef        string
	dispatchInputs     []string
	dispatchInputsFile string
	dispatchFilename   string

	dispatchCmd = &cobra.Command{
		Use:   "dispatch <owner/repo> <workflow-id-or-file>",
		Short: "Trigger a workflow_dispatch run",
		Args:  cobra.ExactArgs(2),
		RunE:  runDispatch,
	}

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage document-store sessions",
	}

	sessionActorType string
	sessionTTL       time.Duration

	sessionCreateCmd = &cobra.Command{
		Use:   "create <actor-id>",
		Short: "Create a session and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *Store) error {
				sess, err := store.CreateSession(cmd.Context(), sessionActorType, args[0], sessionTTL)
				if err != nil {
					return err
				}
				return printJSON(cmd, sess)
			})
		},
	}

	sessionDeleteCmd = &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *Store) error {
				return store.DeleteSession(cmd.Context(), args[0])
			})
		},
	}

	sessionPurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *Store) error {
				n, err := store.PurgeExpiredSessions(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"purged": n})
			})
		},
	}

	uninstallID int64

	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the App from one installation, or from all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := loadServices()
			if err != nil {
				return err
			}
			if uninstallID != 0 {
				if err := svc.app.Uninstall(cmd.Context(), uninstallID); err != nil {
					return err
				}
				return printJSON(cmd, &UninstallResult{Success: true, Message: "Uninstalled", Uninstalled: []int64{uninstallID}})
			}
			res, err := svc.app.UninstallAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s", res.Message)
			}
			return nil
		},
	}
)

// withStore opens the document store for a command.
func withStore(cmd *cobra.Command, fn func(*Store) error) error {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger := NewLogger(cfg.Server.Dev, cfg.Server.LogLevel)
	store, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchRef, "ref", "main", "git ref to run the workflow on")
	dispatchCmd.Flags().StringArrayVar(&dispatchInputs, "input", nil, "workflow input as key=value (repeatable)")
	dispatchCmd.Flags().StringVar(&dispatchInputsFile, "inputs-file", "", "YAML file of workflow inputs")
	dispatchCmd.Flags().StringVar(&dispatchFilename, "filename", "", "workflow file name to fall back to when the id is not found")

	sessionCreateCmd.Flags().StringVar(&sessionActorType, "actor-type", ActorManager, "actor type (manager or worker)")
	sessionCreateCmd.Flags().DurationVar(&sessionTTL, "ttl", defaultSessionTTL, "session lifetime")
	sessionCmd.AddCommand(sessionCreateCmd, sessionDeleteCmd, sessionPurgeCmd)

	uninstallCmd.Flags().Int64Var(&uninstallID, "installation", 0, "installation id (default: every installation)")

	rootCmd.AddCommand(jwtCmd, installationsCmd, dispatchCmd, sessionCmd, uninstallCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	owner, repo, ok := strings.Cut(args[0], "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("repository must be owner/repo, got %q", args[0])
	}

	inputs, err := parseDispatchInputs(dispatchInputsFile, dispatchInputs)
	if err != nil {
		return err
	}

	req := DispatchRequest{Owner: owner, Repo: repo, Ref: dispatchRef, Inputs: inputs}
	req.WorkflowID, req.Filename = dispatchTarget(args[1], dispatchFilename)

	svc, err := loadServices()
	if err != nil {
		return err
	}
	result, err := svc.dispatcher.Dispatch(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

// dispatchTarget splits the workflow argument into an id and a file name.
// A YAML file name is only a file name. A numeric id falls back to filename,
// if given. Any other name is tried as given and then as a .yml file.
func dispatchTarget(arg, filename string) (workflowID, file string) {
	if isYAMLFile(arg) {
		return "", arg
	}
	if filename == "" {
		if _, err := strconv.ParseInt(arg, 10, 64); err != nil {
			filename = arg
		}
	}
	return arg, filename
}

// parseDispatchInputs merges inputs from a YAML file with key=value flags;
// flags win.
func parseDispatchInputs(file string, pairs []string) (map[string]any, error) {
	inputs := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs file: %w", err)
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse inputs file: %w", err)
		}
		for k, v := range inputs {
			switch v.(type) {
			case string, bool, int, float64:
			default:
				return nil, fmt.Errorf("input %q must be a scalar", k)
			}
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("input %q must be key=value", p)
		}
		inputs[k] = v
	}
	return inputs, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
