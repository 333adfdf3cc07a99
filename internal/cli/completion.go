package cli

import (
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// completionGenerators maps a shell name to its cobra script generator.
var completionGenerators = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash":       func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
	"zsh":        (*cobra.Command).GenZshCompletion,
	"fish":       func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
	"powershell": (*cobra.Command).GenPowerShellCompletionWithDesc,
}

// completionCommand creates the completion command.
func (c *CLI) completionCommand() *cobra.Command {
	shells := make([]string, 0, len(completionGenerators))
	for name := range completionGenerators {
		shells = append(shells, name)
	}
	sort.Strings(shells)

	return &cobra.Command{
		Use:   "completion [bash|fish|powershell|zsh]",
		Short: "Generate shell completion scripts",
		Long: `Print a completion script for kmpindex to stdout.

  $ source <(kmpindex completion bash)
  $ kmpindex completion zsh > "${fpath[1]}/_kmpindex"
  $ kmpindex completion fish > ~/.config/fish/completions/kmpindex.fish
  PS> kmpindex completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             shells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return completionGenerators[args[0]](cmd.Root(), cmd.OutOrStdout())
		},
	}
}
