package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// completionCommand creates the completion command for generating shell completions.
func (c *CLI) completionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for polybuild.

Completions cover flags and subcommands, and for install, build, bump and
add they offer the package names of the surrounding repository (pass --cwd
on the command line being completed to point at another checkout).

To load completions:

Bash:
  $ source <(polybuild completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ polybuild completion bash > /etc/bash_completion.d/polybuild
  # macOS:
  $ polybuild completion bash > $(brew --prefix)/etc/bash_completion.d/polybuild

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ polybuild completion zsh > "${fpath[1]}/_polybuild"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ polybuild completion fish | source

  # To load completions for each session, execute once:
  $ polybuild completion fish > ~/.config/fish/completions/polybuild.fish

PowerShell:
  PS> polybuild completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> polybuild completion powershell > polybuild.ps1
  # and source this file from your PowerShell profile.
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

	return cmd
}
