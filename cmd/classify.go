package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-blockinject/pkg/app"
	"github.com/deploymenttheory/go-blockinject/pkg/app/classify"
)

var classifyBlocks []string

var classifyCmd = &cobra.Command{
	Use:   "classify <image>",
	Short: "Report what filesystem structure each block holds",
	Long: `Classify blocks of a filesystem image the way an injection session sees them.

Examples:
  # Classify the f2fs checkpoint and a main-area block
  blockinject classify f2fs.img --block 512,1234

  # Classify ext4 inode table blocks of a volume starting at sector 2048
  blockinject classify disk.img --fs ext4 --start 2048 --block 4-7

  # Attribute f2fs data blocks to inodes using the live checkpoint
  blockinject classify f2fs.img --mounted --block 0x1000-0x100f -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassify(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().AddFlagSet(sessionFlags())
	classifyCmd.Flags().StringSliceVarP(&classifyBlocks, "block", "b", nil, "blocks to classify (1234, 16-19, 0x4d2)")
	classifyCmd.MarkFlagRequired("block")
}

func runClassify(cmd *cobra.Command, imagePath string) error {
	ctx := newContext(cmd)

	kind, err := fsKind()
	if err != nil {
		return err
	}
	blocks, err := app.ParseBlockList(classifyBlocks)
	if err != nil {
		return err
	}
	mounted, _ := cmd.Flags().GetBool("mounted")

	response, err := classify.Handle(ctx, &classify.Request{
		ImagePath:   imagePath,
		FS:          kind,
		StartSector: cfg.StartSector,
		Blocks:      blocks,
		Mounted:     mounted,
	})
	if err != nil {
		return err
	}
	return classify.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
