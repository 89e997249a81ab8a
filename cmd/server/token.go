package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/roomchat/internal/auth"
)

type TokenCmd struct {
	flags *Flags
}

// NewTokenCmd creates a new token command
func NewTokenCmd(flags *Flags) *TokenCmd {
	return &TokenCmd{flags: flags}
}

// Register adds the token command to the application
func (cmd *TokenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "token",
		Usage:       "Issue a JWT for a user",
		UsageText:   "roomchat token <user>",
		Description: "Signs a token with the configured JWT secret and issuer, for use as ?token= when connecting.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *TokenCmd) run(_ context.Context, c *cli.Command) error {
	user := c.Args().First()
	if user == "" {
		return fmt.Errorf("usage: roomchat token <user>")
	}

	manager, err := auth.NewJWTManager(cmd.flags.Config.Auth.JWT)
	if err != nil {
		return err
	}

	token, err := manager.Issue(user)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	_, err = fmt.Fprintln(c.Root().Writer, token)
	return err
}
