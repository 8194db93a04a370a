package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-blockinject/internal/config"
	"github.com/deploymenttheory/go-blockinject/internal/types"
	"github.com/deploymenttheory/go-blockinject/pkg/app"
	"github.com/deploymenttheory/go-blockinject/pkg/app/replay"
)

var (
	runOp       string
	runBlocks   []string
	runOut      string
	runMessages []string
	runEnable   bool
	runRules    string
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <image> [spec...]",
	Short: "Replay block accesses through an injection session",
	Long: `Replay reads or writes of the listed blocks through an injection session
built from the corruption specifications and write the resulting volume to a
new image. The source image is never modified.

Examples:
  # Corrupt the mode of ext4 inode 12 when its inode table block is written
  blockinject run disk.img --fs ext4 --op write --block 4 --enable --out bad.img 'Wi12[i_mode]'

  # Fail the third read of f2fs block 1234
  blockinject run f2fs.img --block 1234 --enable --out out.img Rb1234:3

  # Load specifications and control messages from a rules file
  blockinject run f2fs.img --rules rules.jsonc --block 128-160 --out out.img`,

	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd, args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().AddFlagSet(sessionFlags())
	runCmd.Flags().StringVar(&runOp, "op", "write", "access direction (read, write)")
	runCmd.Flags().StringSliceVarP(&runBlocks, "block", "b", nil, "blocks to access (1234, 16-19, 0x4d2)")
	runCmd.Flags().StringVar(&runOut, "out", "", "path of the image to write")
	runCmd.Flags().StringArrayVarP(&runMessages, "message", "m", nil, "control message sent before the replay (start, stop, corruption_on, corruption_off, test)")
	runCmd.Flags().BoolVar(&runEnable, "enable", false, "start the session with injection enabled")
	runCmd.Flags().StringVar(&runRules, "rules", "", "JSON rules file (comments and trailing commas allowed)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abandon the replay after this long (default: 30s)")
	runCmd.Flags().Int("workers", 4, "concurrent accesses")
	runCmd.Flags().Bool("lock", true, "take an exclusive lock on the source image")
	runCmd.MarkFlagRequired("block")
	runCmd.MarkFlagRequired("out")
}

func runReplay(cmd *cobra.Command, imagePath string, specs []string) error {
	ctx, cancel := newContext(cmd).WithCancel()
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		select {
		case <-interrupt:
			ctx.Logger.Warn("interrupted, abandoning replay")
			cancel()
		case <-ctx.Done():
		}
	}()

	kind, err := fsKind()
	if err != nil {
		return err
	}
	op, err := replay.ParseOp(runOp)
	if err != nil {
		return err
	}
	blocks, err := app.ParseBlockList(runBlocks)
	if err != nil {
		return err
	}

	messages := runMessages
	rulesPath := runRules
	if rulesPath == "" {
		rulesPath = cfg.RulesFile
	}
	if rulesPath != "" {
		rf, err := config.LoadRules(rulesPath, kind)
		if err != nil {
			return err
		}
		if string(kind) != rf.FS && cmd.Flags().Changed("fs") {
			return fmt.Errorf("rules file %s is for %s, not %s", rulesPath, rf.FS, kind)
		}
		kind = types.FSKind(rf.FS)
		specs = append(rf.Rules, specs...)
		messages = append(rf.Messages, messages...)
	}
	mounted, _ := cmd.Flags().GetBool("mounted")

	response, err := replay.Handle(ctx, &replay.Request{
		ImagePath:   imagePath,
		OutPath:     runOut,
		FS:          kind,
		StartSector: cfg.StartSector,
		Specs:       specs,
		Op:          op,
		Blocks:      blocks,
		Messages:    messages,
		Enabled:     runEnable || cfg.Enabled,
		Mounted:     mounted,
		Lock:        cfg.Lock,
		Workers:     cfg.Workers,
		Timeout:     runTimeout,
	})
	if err != nil {
		return err
	}
	if ctx.Quiet {
		_, err := fmt.Fprintln(ctx.Out, replay.FormatSummary(response))
		return err
	}
	return replay.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
