// Copyright (C) 2022 K2 Cyber Security Inc.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/k2io/dxgihook/internal/logger"
	"github.com/k2io/dxgihook/offsets"
)

var (
	// Global flags
	recordPath string
	verbose    bool
	jsonOut    bool
	noColor    bool
	logDir     string
	debugger   bool
)

var (
	okColor   = color.New(color.FgHiGreen)
	warnColor = color.New(color.FgHiYellow)
	keyColor  = color.New(color.FgHiBlue)
)

var rootCmd = &cobra.Command{
	Use:   "dxgiprep",
	Short: "Prepare and inspect dxgi.dll hook offsets",
	Long: `dxgiprep locates IDXGISwapChain::Present and ResizeBuffers inside the
system dxgi.dll and publishes their offsets in a shared record file. Injected
processes read the record to arm their hooks without probing the graphics
stack themselves.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		opts := logger.Options{
			Enabled:  verbose || logDir != "" || debugger,
			LogDir:   logDir,
			Level:    slog.LevelInfo,
			Debugger: debugger,
		}
		if verbose {
			opts.Level = slog.LevelDebug
			opts.Writer = cmd.ErrOrStderr()
		}
		return logger.Init(opts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&recordPath, "record", offsets.DefaultPath(), "Shared offset record file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log lifecycle events to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write logs to a dated file in this directory")
	rootCmd.PersistentFlags().BoolVar(&debugger, "debugger", false, "Mirror logs to an attached debugger")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// recordView is the printable form of a record.
type recordView struct {
	Path    string `json:"path"`
	Present string `json:"present"`
	Resize  string `json:"resize"`
	Valid   bool   `json:"valid"`
}

func viewOf(r offsets.Record) recordView {
	return recordView{
		Path:    r.Path,
		Present: fmt.Sprintf("%#x", r.Present),
		Resize:  fmt.Sprintf("%#x", r.Resize),
		Valid:   r.Valid(),
	}
}

// printRecord writes r as JSON or as colored text.
func printRecord(w io.Writer, r offsets.Record) error {
	v := viewOf(r)
	if jsonOut {
		return printJSON(w, v)
	}
	if v.Valid {
		okColor.Fprintln(w, "offsets prepared")
	} else {
		warnColor.Fprintln(w, "offsets not prepared")
	}
	keyColor.Fprint(w, "  record:  ")
	fmt.Fprintln(w, recordPath)
	keyColor.Fprint(w, "  module:  ")
	fmt.Fprintln(w, v.Path)
	keyColor.Fprint(w, "  present: ")
	fmt.Fprintln(w, v.Present)
	keyColor.Fprint(w, "  resize:  ")
	fmt.Fprintln(w, v.Resize)
	return nil
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
