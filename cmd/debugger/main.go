// Command debugger loads a directory of nanoem plugins the way the host
// application does and drives them from the command line.
//
//	debugger list ./plugins
//	debugger run ./plugins -f 0 --input model.pmx --output out.pmx
//	debugger layout ./plugins -f 0
//	debugger tui ./plugins --input model.pmx
package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	// Global flags.
	kind         string
	pluginOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "debugger",
	Short: "Load and run nanoem WebAssembly plugins",
	Long: `debugger loads every plugin in a directory through the same entry points
the host application uses and lets you list, run and inspect their functions.

Plugins that fail to load are reported in the log and left out. The command
exits with status 1 when the directory cannot be loaded at all.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&kind, "kind", "k", "model", "Plugin family (model, motion)")
	rootCmd.PersistentFlags().BoolVar(&pluginOutput, "plugin-output", false, "Forward plugin stdout and stderr to stderr")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// open starts a session for the command's directory argument.
func open(cmd *cobra.Command, dir string) (*session, error) {
	var output io.Writer
	if pluginOutput {
		output = cmd.ErrOrStderr()
	}
	return openSession(cmd.Context(), dir, sessionOptions{kind: kind, output: output})
}
