package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/sigma-detect/internal/rules"
)

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Compile rules and report the ones that would be skipped",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("strict", false, "stop at the first rule file that fails to decode")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg.Rules.Path = args[0]
	}
	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		if _, err := rules.LoadDirRecursive(cfg.Rules.Path); err != nil {
			return err
		}
	}
	rs, _, err := loadRuleset(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "files=%d compiled=%d invalid_files=%d skipped_rules=%d\n",
		rs.Stats.TotalFiles, rs.Engine.Len(), rs.Stats.SkippedInvalid, len(rs.Skipped))

	if rs.Rejected() == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tRULE\tERROR")
	for _, f := range rs.Stats.Failures {
		fmt.Fprintf(tw, "invalid_file\t%s\t%v\n", f.Path, f.Err)
	}
	for _, s := range rs.Skipped {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", s.Kind(), s.ID, s.Err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%d rules rejected", rs.Rejected())
}
