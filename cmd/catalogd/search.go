package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"geekcatalog/config"
	"geekcatalog/services/provider"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <movies|series|games> <query>",
		Short: "Search a provider for titles by name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return search(cmd.Context(), opts.settings, args[0], strings.Join(args[1:], " "), cmd.OutOrStdout())
		},
	}
}

func search(ctx context.Context, s config.Settings, kind, query string, out io.Writer) error {
	a, err := newApp(ctx, s, appOptions{})
	if err != nil {
		return err
	}
	defer a.db.Close()

	var client provider.Client
	switch kind {
	case "movies", "movie":
		client = a.movies
	case "series", "tv":
		client = a.series
	case "games", "game":
		client = a.games
	default:
		return fmt.Errorf("unknown provider %q: want movies, series or games", kind)
	}
	results, err := client.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search %s: %w", kind, err)
	}
	return printJSON(out, results)
}
