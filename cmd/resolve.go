package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"streamgrab/internal/httputil"
)

var errNotResolved = errors.New("no realtime endpoint found")

var resolveCmd = &cobra.Command{
	Use:   "resolve <page-url>",
	Short: "Print the realtime endpoint a page connects to, without recording",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveRun,
}

func resolveRun(cmd *cobra.Command, args []string) error {
	pageURL := args[0]
	if err := httputil.ValidateURL(pageURL); err != nil {
		return err
	}

	ctx := cmd.Context()
	session, err := newLauncher(cfg)(ctx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer session.Close()

	res, ok, err := newResolver(cfg).Resolve(ctx, session, pageURL)
	if err != nil {
		return err
	}
	if !ok {
		return errNotResolved
	}

	if flagJSON {
		out := map[string]interface{}{
			"source":   pageURL,
			"endpoint": res.Endpoint,
			"title":    res.Title,
			"frames":   res.Frames,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Endpoint)
	return nil
}
