package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "storyreel",
		Short:        "Turn stories into narrated vertical videos",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	pf := root.PersistentFlags()
	pf.String("library", "library", "Output library directory")
	pf.String("subreddit", "nosleep", "Subreddit to fetch stories from")
	pf.String("query", "", "Footage search query (default: derived from story)")
	pf.Bool("multi-clip", false, "Concatenate several clips instead of looping one")
	pf.String("captions", "text", "Caption mode: none, text or synced")
	pf.String("voice", "es-ES-AlvaroNeural", "Narration voice")
	pf.Int("segment", 0, "Split output into segments of about N seconds (0 disables; the split subcommand then uses 120)")

	// Hidden tuning flags (internal)
	pf.Int("segment-floor", 60, "Minimum segment length seconds")
	_ = pf.MarkHidden("segment-floor")
	pf.Int("stage-timeout", 900, "Per-command timeout seconds")
	_ = pf.MarkHidden("stage-timeout")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: fetch, narrate, assemble, caption, split",
		Args:  cobra.NoArgs,
		RunE:  runFull,
	}
	runCmd.Flags().Int("stories", 1, "Number of stories to process")
	root.AddCommand(runCmd)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and rewrite one story without producing media",
		Args:  cobra.NoArgs,
		RunE:  runFetch,
	}
	root.AddCommand(fetchCmd)

	for _, stage := range []struct {
		name  string
		short string
	}{
		{"narrate", "Synthesize narration for an existing story"},
		{"video", "Assemble and mux the video for an existing story"},
		{"captions", "Burn captions onto an existing video"},
		{"split", "Split an existing video into segments"},
	} {
		stage := stage
		cmd := &cobra.Command{
			Use:   stage.name + " <story-id>",
			Short: stage.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStage(cmd, stage.name, args[0])
			},
		}
		root.AddCommand(cmd)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
