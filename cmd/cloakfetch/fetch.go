package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sardanioss/cloakfetch/client"
	"github.com/sardanioss/cloakfetch/headers"
)

type fetchFlags struct {
	method       string
	headers      []string
	data         string
	noDefaults   bool
	include      bool
	noFollow     bool
	maxRedirects int
}

func getCmdFetch(gs *globalState) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Perform one HTTP request and print the response body",
		Example: `  cloakfetch fetch https://example.com
  cloakfetch fetch -X POST -H 'Content-Type: application/json' -d '{"a":1}' https://httpbin.org/post
  cloakfetch fetch --profile firefox-133 --include https://tls.peet.ws/api/all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			c, _, _, err := gs.newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			body := f.data
			if body == "@-" {
				b, err := io.ReadAll(gs.stdin)
				if err != nil {
					return err
				}
				body = string(b)
			}
			if body != "" {
				opts.Body = body
			}

			resp, err := c.Fetch(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if f.include {
				printHead(gs.stdout, resp)
			}
			data, err := resp.Bytes()
			if err != nil {
				return err
			}
			_, err = gs.stdout.Write(data)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.method, "request", "X", "", "HTTP method (default GET, or POST with --data)")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, `request header "Name: value", repeatable`)
	flags.StringVarP(&f.data, "data", "d", "", "request body, @- reads stdin")
	flags.BoolVar(&f.noDefaults, "no-default-headers", false, "send only the given headers")
	flags.BoolVarP(&f.include, "include", "i", false, "print status line and response headers")
	flags.BoolVar(&f.noFollow, "no-follow", false, "do not follow redirects")
	flags.IntVar(&f.maxRedirects, "max-redirects", 0, "redirect limit (default 10)")
	return cmd
}

func (f *fetchFlags) options() (*client.FetchOptions, error) {
	opts := &client.FetchOptions{
		Method:                f.method,
		DisableDefaultHeaders: f.noDefaults,
		MaxRedirects:          f.maxRedirects,
	}
	if opts.Method == "" && f.data != "" {
		opts.Method = "POST"
	}
	if f.noFollow {
		follow := false
		opts.FollowRedirects = &follow
	}
	if len(f.headers) > 0 {
		pairs, err := parseHeaderFlags(f.headers)
		if err != nil {
			return nil, err
		}
		opts.Headers = pairs
	}
	return opts, nil
}

// parseHeaderFlags keeps flag order and duplicate names.
func parseHeaderFlags(raw []string) (headers.Pairs, error) {
	pairs := make(headers.Pairs, 0, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		pairs = append(pairs, headers.Pair{Name: name, Value: strings.TrimSpace(value)})
	}
	return pairs, nil
}

func printHead(w io.Writer, resp *client.Response) {
	proto := resp.Protocol
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(w, "%s %d %s\n", proto, resp.Status, resp.StatusText)
	for _, e := range resp.Headers.Entries() {
		fmt.Fprintf(w, "%s: %s\n", e.Name, e.Value)
	}
	fmt.Fprintln(w)
}
