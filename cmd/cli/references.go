package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/earpeace/pkg/earpeace"
)

var (
	refKey   string
	refTitle string
)

var addCmd = &cobra.Command{
	Use:   "add <media>",
	Short: "Transcode a media file with ffmpeg and index it as a reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		fmt.Println("🎵 Processing audio file...")
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		ref, err := svc.AddReference(ctx, refKey, refTitle, args[0])
		if err != nil {
			return fmt.Errorf("failed to add reference: %w", err)
		}
		printIndexed(ref)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <wav>",
	Short: "Index a mono WAV already at the target sample rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ref, err := svc.IndexWAV(cmd.Context(), refKey, refTitle, args[0])
		if err != nil {
			return fmt.Errorf("failed to index reference: %w", err)
		}
		printIndexed(ref)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog references",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		refs, err := svc.ListReferences()
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("📭 No references in catalog")
			return nil
		}

		fmt.Printf("📚 Found %d reference(s):\n\n", len(refs))
		for i, ref := range refs {
			fmt.Printf("%d. %s [%s]\n", i+1, ref.Key, ref.Status)
			if ref.Title != "" {
				fmt.Printf("   Title:    %s\n", ref.Title)
			}
			if ref.DurationMs > 0 {
				secs := ref.DurationMs / 1000
				fmt.Printf("   Duration: %d:%02d\n", secs/60, secs%60)
			}
			if ref.HashCount > 0 {
				fmt.Printf("   Entries:  %d\n", ref.HashCount)
			}
			if ref.LastError != "" {
				fmt.Printf("   Error:    %s\n", ref.LastError)
			}
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a reference and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.DeleteReference(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete reference: %w", err)
		}
		fmt.Printf("✅ Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, indexCmd} {
		c.Flags().StringVar(&refKey, "key", "", "reference key (default: generated)")
		c.Flags().StringVar(&refTitle, "title", "", "reference title")
	}
}

func printIndexed(ref *earpeace.Reference) {
	fmt.Println("✅ Indexed reference")
	fmt.Printf("   Key:      %s\n", ref.Key)
	fmt.Printf("   Title:    %s\n", ref.Title)
	fmt.Printf("   Duration: %.1fs\n", float64(ref.DurationMs)/1000)
	fmt.Printf("   Entries:  %d\n", ref.HashCount)
	fmt.Printf("   Index:    %s\n", ref.IndexLocation)
}
