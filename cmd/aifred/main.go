package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/app"
	"github.com/a-marczewski/aifred/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "aifred",
	Short: "AIFRED - adaptive chat assistant with a local memory vault",
	Long: `AIFRED routes each chat turn to a local, cloud or legacy model,
learns your style as you talk, and grounds answers in files you add to its memory vault.`,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(personalityCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate the autocompletion script for the specified shell",
	Long: `Generate the autocompletion script for aifred for the specified shell.
See each command's help for details on how to use the generated script.
	`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		switch args[0] {
		case "bash":
			err = cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating completion script: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
}

var versionCheck bool

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check GitHub for a newer release")
}

func runVersionCmd(a *app.App, cmd *cobra.Command, args []string) {
	fmt.Printf("aifred v%s\n", version.Version)
	if !versionCheck {
		return
	}
	ctx, cancel := context.WithTimeout(a.Ctx, 10*time.Second)
	defer cancel()
	latest, err := version.CheckForUpdates(ctx, nil, version.ReleasesURL)
	switch {
	case err != nil:
		a.Core.Logger.Warn("Version check failed", zap.Error(err))
		fmt.Printf("! Could not check for updates: %v\n", err)
	case latest != "":
		fmt.Printf("A newer version is available: v%s\n", latest)
	default:
		fmt.Println("You are running the latest version.")
	}
}

// exitCode is set by commands that fail after the app is built so that
// main can still close it before exiting.
var exitCode int

// newAppRunner creates a Cobra Run function closure with the app.App instance.
func newAppRunner(a *app.App, runFunc func(*app.App, *cobra.Command, []string)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		runFunc(a, cmd, args)
	}
}

func main() {
	gate := newTerminalGate(bufio.NewReader(os.Stdin), os.Stdout)

	appInstance, err := app.NewApp(gate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	gate.autoApprove = appInstance.Core.Config.ToolsAutoApprove

	chatCmd.Run = newAppRunner(appInstance, func(a *app.App, cmd *cobra.Command, args []string) {
		runChatCmd(a, gate, cmd, args)
	})
	askCmd.Run = newAppRunner(appInstance, func(a *app.App, cmd *cobra.Command, args []string) {
		runAskCmd(a, gate, cmd, args)
	})
	modelsCmd.Run = newAppRunner(appInstance, runModelsCmd)
	modelsVerifyCmd.Run = newAppRunner(appInstance, runModelsVerifyCmd)
	routeCmd.Run = newAppRunner(appInstance, runRouteCmd)
	vaultIngestCmd.Run = newAppRunner(appInstance, runVaultIngestCmd)
	vaultSearchCmd.Run = newAppRunner(appInstance, runVaultSearchCmd)
	vaultPinCmd.Run = newAppRunner(appInstance, runVaultPinCmd)
	vaultHideCmd.Run = newAppRunner(appInstance, runVaultHideCmd)
	vaultForgetCmd.Run = newAppRunner(appInstance, runVaultForgetCmd)
	profileShowCmd.Run = newAppRunner(appInstance, runProfileShowCmd)
	profileResetCmd.Run = newAppRunner(appInstance, runProfileResetCmd)
	personalityResetCmd.Run = newAppRunner(appInstance, runPersonalityResetCmd)
	personalityToggleCmd.Run = newAppRunner(appInstance, runPersonalityToggleCmd)
	historyShowCmd.Run = newAppRunner(appInstance, runHistoryShowCmd)
	historyClearCmd.Run = newAppRunner(appInstance, runHistoryClearCmd)
	serveCmd.Run = newAppRunner(appInstance, runServeCmd)
	statsCmd.Run = newAppRunner(appInstance, runStatsCmd)
	doctorCmd.Run = newAppRunner(appInstance, runDoctorCmd)
	versionCmd.Run = newAppRunner(appInstance, runVersionCmd)

	err = rootCmd.Execute()
	if err != nil {
		appInstance.Core.Logger.Error("Root command execution failed", zap.Error(err))
	}
	appInstance.Close()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
