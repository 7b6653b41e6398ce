package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/pkg/entry"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(logwayss completion bash)

  # To load for each session (Linux):
  $ logwayss completion bash > ~/.local/share/bash-completion/completions/logwayss

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ logwayss completion zsh > ~/.zsh/completions/_logwayss

Fish:
  $ logwayss completion fish > ~/.config/fish/completions/logwayss.fish

PowerShell:
  PS> logwayss completion powershell >> $PROFILE

Entry types complete for --type. Tags and ids do not, since that would
need the master password.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// completeTypes completes --type with the known entry types.
func completeTypes(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var types []string
	for _, t := range entry.Types() {
		if strings.HasPrefix(string(t), toComplete) {
			types = append(types, string(t))
		}
	}
	return types, cobra.ShellCompDirectiveNoFileComp
}
