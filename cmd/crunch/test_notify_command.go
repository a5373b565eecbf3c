package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"crunch/internal/ipc"
	"crunch/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var client *ipc.Client
			if !local {
				client, _ = ctx.dialClient()
			}
			if client == nil {
				cfg, cfgErr := ctx.ensureConfig()
				if cfgErr != nil {
					return cfgErr
				}
				if cfg.Notifications.NtfyTopic == "" {
					fmt.Fprintln(out, "Notifications disabled (no ntfy_topic configured)")
					return nil
				}
				if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
					return fmt.Errorf("send test notification: %w", err)
				}
				fmt.Fprintln(out, "Test notification sent")
				return nil
			}
			defer client.Close()
			return sendViaDaemon(out, client)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Send directly instead of through crunchd")
	return cmd
}

func sendViaDaemon(out io.Writer, client *ipc.Client) error {
	resp, err := client.TestNotification()
	if err != nil {
		if resp != nil && resp.Message != "" {
			fmt.Fprintln(out, resp.Message)
		}
		return err
	}
	if resp == nil {
		return errors.New("missing notification response")
	}
	switch {
	case resp.Message != "":
		fmt.Fprintln(out, resp.Message)
	case resp.Sent:
		fmt.Fprintln(out, "Test notification sent")
	default:
		fmt.Fprintln(out, "Notification not sent")
	}
	return nil
}
