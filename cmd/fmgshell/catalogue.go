package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fmgshell/completion"
	"fmgshell/pathtree"
)

var (
	completeCwd    string
	completeCommon bool
)

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Print the API path catalogue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := loadCatalogue()
		if err != nil {
			return err
		}
		node := tree
		if len(args) == 1 {
			if node, err = pathtree.Resolve(tree, args[0]); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
		}
		return pathtree.Dump(cmd.OutOrStdout(), node)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete [text]",
	Short: "Print the completions for text",
	Long: `Prints the candidate paths for partially typed text, one per line,
followed by the labels the shell would offer. Relative text is taken from
--cwd. With --common only the longest path shared by every candidate is
printed, which is what a shell would insert.

Example:
  fmgshell complete /dvmdb/ad
  fmgshell complete --cwd /cli/global sys
  fmgshell complete --common /dvmdb/ad`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := loadCatalogue()
		if err != nil {
			return err
		}
		cwd, err := pathtree.Resolve(tree, completeCwd)
		if err != nil {
			return fmt.Errorf("--cwd %s: %w", completeCwd, err)
		}
		var text string
		if len(args) == 1 {
			text = args[0]
		}

		res := completion.Complete(cwd, text)
		out := cmd.OutOrStdout()
		if completeCommon {
			if res.Len() > 0 {
				fmt.Fprintln(out, completion.CommonPrefix(res.Paths))
			}
			return nil
		}
		for _, p := range res.Paths {
			fmt.Fprintln(out, p)
		}
		if res.Len() == 0 {
			fmt.Fprintln(out, "  (no completions)")
			return nil
		}
		fmt.Fprintln(out)
		completion.WriteLabels(out, res.Labels)
		return nil
	},
}

func init() {
	completeCmd.Flags().StringVar(&completeCwd, "cwd", "/", "working directory for relative text")
	completeCmd.Flags().BoolVar(&completeCommon, "common", false, "print only the common prefix of the candidates")
}
