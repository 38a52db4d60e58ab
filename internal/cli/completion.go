package cli

import (
	"github.com/spf13/cobra"
)

func newCompletionCommand() *cobra.Command {
	var noDescriptions bool

	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for assetflow. Task names of the
pipeline in the current directory complete for "assetflow run".

Bash:
  $ source <(assetflow completion bash)

Zsh:
  $ assetflow completion zsh > "${fpath[1]}/_assetflow"

Fish:
  $ assetflow completion fish > ~/.config/fish/completions/assetflow.fish

PowerShell:
  PS> assetflow completion powershell | Out-String | Invoke-Expression
`,
		// Completion needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			root := cmd.Root()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, !noDescriptions)
			case "zsh":
				if noDescriptions {
					return root.GenZshCompletionNoDesc(w)
				}

				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, !noDescriptions)
			case "powershell":
				if noDescriptions {
					return root.GenPowerShellCompletion(w)
				}

				return root.GenPowerShellCompletionWithDesc(w)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&noDescriptions, "no-descriptions", false, "omit completion descriptions")

	return cmd
}
