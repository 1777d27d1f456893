package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	matchClip string
	matchJSON bool
)

var matchCmd = &cobra.Command{
	Use:   "match <media>",
	Short: "Find the reference and offset a clip comes from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		res, err := svc.Match(ctx, args[0], matchClip)
		if err != nil {
			return fmt.Errorf("failed to match clip: %w", err)
		}

		if matchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		if !res.Found() {
			fmt.Printf("❌ No match (%s, %d query hashes, %d candidates)\n", res.Outcome, res.QueryHashes, res.Evaluated)
			return nil
		}
		fmt.Println("✅ Match found")
		fmt.Printf("   Key:        %s\n", res.Key)
		if res.Title != "" {
			fmt.Printf("   Title:      %s\n", res.Title)
		}
		fmt.Printf("   Offset:     %.3fs (%d frames)\n", res.OffsetSeconds, res.OffsetFrames)
		fmt.Printf("   Confidence: %.1f%% (%d/%d votes)\n", res.Confidence*100, res.Votes, res.QueryHashes)
		if len(res.Skipped) > 0 {
			fmt.Printf("   Skipped:    %v\n", res.Skipped)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchClip, "clip", "", "only align against this reference key")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the result as JSON")
}
