package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/bioindex/internal/config"
	"github.com/3leaps/bioindex/pkg/provider"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Verify read/write/list access to the configured bucket before a long build",
	Long: `Preflight writes and deletes a small probe object under a temporary
key, confirming PutObject/DeleteObject permissions, then lists the
bucket root to confirm List permissions. It reports which capability
checks passed without touching any existing object.`,
	Args: cobra.NoArgs,
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return exitError("preflight", err)
	}
	defer a.close()

	out := cmd.OutOrStdout()
	ok := true

	if _, err := a.provider.List(cmd.Context(), provider.ListOptions{MaxKeys: 1}); err != nil {
		fmt.Fprintf(out, "list:   FAIL (%v)\n", err)
		ok = false
	} else {
		fmt.Fprintln(out, "list:   ok")
	}

	if err := preflightWriteProbe(cmd.Context(), a.provider); err != nil {
		fmt.Fprintf(out, "write:  FAIL (%v)\n", err)
		ok = false
	} else {
		fmt.Fprintln(out, "write:  ok")
	}

	if !ok {
		return exitError("preflight", fmt.Errorf("one or more capability checks failed"))
	}
	fmt.Fprintln(out, "preflight passed")
	return nil
}

// preflightWriteProbe round-trips a tiny object under a key unlikely to
// collide with real data, confirming Put+Delete without leaving residue.
func preflightWriteProbe(ctx context.Context, p provider.Provider) error {
	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("provider does not support PutObject")
	}
	deleter, ok := p.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("provider does not support DeleteObject")
	}

	key := fmt.Sprintf(".bioindex-preflight/%d", time.Now().UnixNano())
	body := strings.NewReader("preflight\n")
	if err := putter.PutObject(ctx, key, body, body.Size()); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	if err := deleter.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
