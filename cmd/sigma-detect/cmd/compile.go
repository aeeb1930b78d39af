package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
)

var compileCmd = &cobra.Command{
	Use:   "compile <condition>",
	Short: "Compile a condition expression and print its canonical form",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringSlice("ids", nil, "declared search identifiers")
}

func runCompile(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetStringSlice("ids")
	opts := condition.DefaultOptions().WithMaxDepth(cfg.Condition.MaxDepth)

	c, err := condition.CompileWithOptions(args[0], ids, opts)
	if err != nil {
		var ce *condition.CompileError
		if errors.As(err, &ce) && ce.Position >= 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n%*s^\n", args[0], ce.Position, "")
		}
		return fmt.Errorf("[%s] %w", condition.KindName(err), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, c.String())
	fmt.Fprintf(out, "references: %v\n", c.References())
	return nil
}
