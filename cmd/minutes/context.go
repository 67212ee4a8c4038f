package main

import (
	"errors"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"minutes/internal/config"
	"minutes/internal/ipc"
)

const userEnv = "MINUTES_USER"

type globalFlags struct {
	config string
	api    string
	user   string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.flags != nil && c.flags.json
}

func (c *commandContext) apiAddress(cfg *config.Config) string {
	if addr := strings.TrimSpace(c.flags.api); addr != "" {
		return addr
	}
	if cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

// userID resolves the acting user: flag, environment, intake owner, then the
// login name.
func (c *commandContext) userID(cfg *config.Config) (string, error) {
	if id := strings.TrimSpace(c.flags.user); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(os.Getenv(userEnv)); id != "" {
		return id, nil
	}
	if cfg != nil {
		if id := strings.TrimSpace(cfg.Intake.UserID); id != "" {
			return id, nil
		}
	}
	if current, err := user.Current(); err == nil && strings.TrimSpace(current.Username) != "" {
		return current.Username, nil
	}
	return "", errors.New("no user ID: pass --user or set " + userEnv)
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	userID, err := c.userID(cfg)
	if err != nil {
		return err
	}
	client, err := ipc.Dial(ipc.Options{
		Address: c.apiAddress(cfg),
		UserID:  userID,
		Token:   cfg.Paths.APIToken,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
