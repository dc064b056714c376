// Package cmd wires the syncroom-chat command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/syncroom/syncroom/chat/internal/tui/room"
	"github.com/syncroom/syncroom/pkg/protocol"
)

const envToken = "SYNCROOM_TOKEN"

var version = "dev"

// NewRootCmd creates the root cobra command for syncroom-chat.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "syncroom-chat",
		Short: "Join a syncroom project room from the terminal",
		Long:  "syncroom-chat joins a project room on a syncroom hub, shows the room chat, forwards @ai prompts and lets you review and save the project's file tree.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hubURL, _ := cmd.Flags().GetString("hub")
			projectID, _ := cmd.Flags().GetString("project")
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				token = os.Getenv(envToken)
			}
			if projectID == "" {
				return errors.New("--project is required")
			}
			if token == "" {
				return fmt.Errorf("--token or %s is required", envToken)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return room.Attach(ctx, room.Options{
				HubURL:    hubURL,
				ProjectID: projectID,
				Token:     token,
				Self:      selfFromToken(token),
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().String("hub", "http://localhost:8080", "hub base URL")
	root.Flags().StringP("project", "p", "", "project id to join")
	root.Flags().String("token", "", "bearer credential (default $"+envToken+")")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "syncroom-chat", version)
		},
	})

	return root
}

// selfFromToken reads the caller's identity from the credential without
// verifying it. The hub does the verification; this only labels local
// echoes.
func selfFromToken(token string) protocol.Sender {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return protocol.Sender{Email: "me"}
	}
	s := protocol.Sender{}
	if id, ok := claims["_id"].(string); ok && id != "" {
		s.ID = id
	} else if sub, err := claims.GetSubject(); err == nil {
		s.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		s.Email = email
	}
	if s.Email == "" && s.ID == "" {
		s.Email = "me"
	}
	return s
}

// Execute runs the root command with a background context.
func Execute(v string) error {
	return NewRootCmd(v).ExecuteContext(context.Background())
}
