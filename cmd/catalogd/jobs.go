package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// adminClient calls the /admin routes of a running server.
type adminClient struct {
	base  string
	token string
	httpc *http.Client
}

func newAdminClient(base, token string) *adminClient {
	return &adminClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends the request and decodes the JSON body into a generic map. Non-2xx
// responses become errors carrying the server's message.
func (c *adminClient) do(ctx context.Context, method, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 300 {
		return body, fmt.Errorf("%s %s: %d %v", method, path, resp.StatusCode, body["error"])
	}
	return body, nil
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Drive ingestion jobs on a running server",
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "base URL of the running server")

	client := func() *adminClient { return newAdminClient(server, opts.settings.Server.AdminToken) }
	action := func(use, short, method string, path func(arg string) string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := client().do(cmd.Context(), method, path(url.PathEscape(args[0])))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List job names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				body, err := client().do(cmd.Context(), http.MethodGet, "/admin/jobs")
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			},
		},
		action("run <job>", "Start a new instance of a job", http.MethodPost,
			func(name string) string { return "/admin/jobs/" + name + "/run" }),
		action("get <execution>", "Show an execution", http.MethodGet,
			func(id string) string { return "/admin/executions/" + id }),
		action("stop <execution>", "Stop a running execution", http.MethodPost,
			func(id string) string { return "/admin/executions/" + id + "/stop" }),
		action("restart <execution>", "Restart a failed or stopped execution", http.MethodPost,
			func(id string) string { return "/admin/executions/" + id + "/restart" }),
		action("abandon <execution>", "Mark an execution as never to be restarted", http.MethodPost,
			func(id string) string { return "/admin/executions/" + id + "/abandon" }),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
