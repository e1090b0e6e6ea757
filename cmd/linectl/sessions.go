package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matheus3301/lined/internal/config"
	"github.com/matheus3301/lined/internal/lock"
	"github.com/matheus3301/lined/internal/session"
	"github.com/spf13/cobra"
)

var (
	identityFlag  string
	secretEnvFlag string
	serverFlag    string
	defaultFlag   bool
)

func init() {
	initCmd.Flags().StringVar(&identityFlag, "identity", "", "account login (required)")
	initCmd.Flags().StringVar(&secretEnvFlag, "secret-env", config.DefaultSecretEnv, "environment variable holding the account secret")
	initCmd.Flags().StringVar(&serverFlag, "server", "", "command endpoint address (default from built-in config)")
	initCmd.Flags().BoolVar(&defaultFlag, "default", false, "make this the default session")
	_ = initCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(initCmd, sessionsCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the config file of a session",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		name, err := sessionName()
		if err != nil {
			return err
		}
		if err := session.ValidateIdentity(identityFlag); err != nil {
			return err
		}
		if err := session.EnsureDir(name); err != nil {
			return err
		}

		cfg := config.Default()
		cfg.Account.Identity = identityFlag
		cfg.Account.SecretEnv = secretEnvFlag
		if serverFlag != "" {
			cfg.Server.CommandAddr = serverFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		path := session.AccountConfigPath(name)
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)

		if defaultFlag {
			global, err := config.Load(session.ConfigPath())
			if errors.Is(err, os.ErrNotExist) {
				global, err = &config.Config{}, nil
			}
			if err != nil {
				return fmt.Errorf("read global config: %w", err)
			}
			global.DefaultSession = name
			if err := config.Save(session.ConfigPath(), global); err != nil {
				return err
			}
			fmt.Printf("Default session is now %q\n", name)
		}
		return nil
	},
}

type sessionInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Identity string `json:"identity,omitempty"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		var sessions []sessionInfo
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			info := sessionInfo{Name: e.Name(), Path: session.Dir(e.Name())}
			// The daemon removes its lock file on exit.
			if owner, err := lock.ReadOwner(info.Path); err == nil {
				info.Running = true
				info.PID = owner.PID
				info.Identity = owner.Identity
			}
			sessions = append(sessions, info)
		}
		if jsonFlag {
			outputJSON(sessions)
			return nil
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range sessions {
			state := "stopped"
			if s.Running {
				state = fmt.Sprintf("running, pid %d, %s", s.PID, s.Identity)
			}
			fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
		}
		return nil
	},
}
