package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/sardanioss/cloakfetch/client"
	"github.com/sardanioss/cloakfetch/protocol"
)

func getCmdWS(gs *globalState) *cobra.Command {
	var (
		hdrs       []string
		noDefaults bool
	)
	cmd := &cobra.Command{
		Use:   "ws URL",
		Short: "Open a WebSocket, send stdin lines as text frames and print what arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &client.DialOptions{DisableDefaultHeaders: noDefaults}
			if len(hdrs) > 0 {
				pairs, err := parseHeaderFlags(hdrs)
				if err != nil {
					return err
				}
				opts.Headers = pairs
			}

			c, _, _, err := gs.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx := cmd.Context()
			ws, err := c.Dial(ctx, args[0], opts)
			if err != nil {
				return err
			}

			printed := make(chan error, 1)
			go func() { printed <- printEvents(gs.stdout, ws.Events()) }()

			if err := pumpLines(ctx, gs.stdin, ws); err != nil {
				return err
			}
			err = ws.Close(ctx, websocket.CloseNormalClosure, "")
			if err != nil && protocol.KindOf(err) != protocol.KindConnectionClosed {
				return err
			}
			return <-printed
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&hdrs, "header", "H", nil, `handshake header "Name: value", repeatable`)
	flags.BoolVar(&noDefaults, "no-default-headers", false, "send only the given handshake headers")
	return cmd
}

// pumpLines sends each input line as a text frame until EOF or until the
// connection closes.
func pumpLines(ctx context.Context, in io.Reader, ws *client.WebSocket) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		err := ws.SendText(ctx, sc.Text())
		if protocol.KindOf(err) == protocol.KindConnectionClosed {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return sc.Err()
}

func printEvents(w io.Writer, events <-chan client.Event) error {
	for ev := range events {
		var err error
		switch ev.Kind {
		case protocol.EventMessage:
			if ev.Message.Binary {
				_, err = fmt.Fprintf(w, "< binary %d bytes\n", len(ev.Message.Data))
			} else {
				_, err = fmt.Fprintf(w, "< %s\n", ev.Message.Data)
			}
		case protocol.EventError:
			_, err = fmt.Fprintf(w, "! %v\n", ev.Err)
		case protocol.EventClose:
			_, err = fmt.Fprintf(w, "closed %d %s\n", ev.Code, ev.Reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
