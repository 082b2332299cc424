package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/nanoem-plugin-wasm/uilayout"
)

var listCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List every function of the plugins in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close(cmd.Context())
		printFunctions(cmd.OutOrStdout(), s.functions(cmd.Context()))
		return nil
	},
}

var runFlags struct {
	function    int
	input       string
	activeModel string
	output      string
	language    string
	selections  []string
	named       []string
}

var runCmd = &cobra.Command{
	Use:   "run <dir>",
	Short: "Execute one function",
	Long: `Execute one function and write its output data.

The function is addressed by its index in "debugger list". Input data is
passed to SetInputModelData or SetInputMotionData depending on --kind.`,
	Example: `  # Run the first model function and keep its output
  debugger run ./plugins -f 0 --input model.pmx --output out.pmx

  # Select bones 1 and 2 before executing
  debugger run ./plugins -f 0 --input model.pmx --select bone=1,2

  # Select frames of a named bone track in a motion plugin
  debugger run ./plugins -k motion -f 0 --input motion.vmd --named bone:center=0,10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest()
		if err != nil {
			return err
		}
		s, err := open(cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close(cmd.Context())

		res, err := s.run(cmd.Context(), req)
		if err != nil {
			return err
		}
		if err := res.err(); err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), runFlags.output, res.output)
	},
}

var layoutFunction int

var layoutCmd = &cobra.Command{
	Use:   "layout <dir>",
	Short: "Show the UI window layout of a function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd, args[0])
		if err != nil {
			return err
		}
		defer s.Close(cmd.Context())

		w, res, err := s.layout(cmd.Context(), layoutFunction)
		if err != nil {
			return err
		}
		if res != nil {
			return res.err()
		}
		printLayout(cmd.OutOrStdout(), w)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, runCmd, layoutCmd)

	f := runCmd.Flags()
	f.IntVarP(&runFlags.function, "function", "f", 0, "Function index")
	f.StringVarP(&runFlags.input, "input", "i", "", "Input model or motion file")
	f.StringVar(&runFlags.activeModel, "active-model", "", "Active model file (motion plugins)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Write output data to this file")
	f.StringVarP(&runFlags.language, "language", "l", "en", "Language of plugin strings (en, ja)")
	f.StringArrayVar(&runFlags.selections, "select", nil, "Selected objects or keyframes as KIND=v1,v2")
	f.StringArrayVar(&runFlags.named, "named", nil, "Selected named keyframes as KIND:NAME=f1,f2")

	layoutCmd.Flags().IntVarP(&layoutFunction, "function", "f", 0, "Function index")
}

func buildRequest() (request, error) {
	lang, err := parseLanguage(runFlags.language)
	if err != nil {
		return request{}, err
	}
	req := request{
		language:   lang,
		function:   runFlags.function,
		selections: runFlags.selections,
		named:      runFlags.named,
	}
	if req.input, err = readOptional(runFlags.input); err != nil {
		return request{}, err
	}
	if req.activeModel, err = readOptional(runFlags.activeModel); err != nil {
		return request{}, err
	}
	return req, nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		fmt.Fprintf(w, "output: %d bytes\n", len(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(w, "wrote %d bytes to %s\n", len(data), path)
	return nil
}

func printFunctions(out io.Writer, funcs []function) {
	if len(funcs) == 0 {
		fmt.Fprintln(out, "No functions.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME")
	for _, f := range funcs {
		fmt.Fprintf(w, "%d\t%s\n", f.index, f.name)
	}
	w.Flush()
}

func printLayout(out io.Writer, win *uilayout.Window) {
	fmt.Fprintf(out, "Window: %s\n", win.Title)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tLABEL\tVALUE")
	for _, c := range win.Components {
		fmt.Fprintf(w, "%s\t%s\t%s\t%x\n", c.ID, c.Kind, c.Label, c.Value)
	}
	w.Flush()
}
