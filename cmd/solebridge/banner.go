package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/srg/solebridge/pkg/config"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printBanner prints where viewers can connect and which insoles are expected.
func printBanner(w io.Writer, cfg *config.Config, addr string) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.Faint)
	if !isTerminal(w) {
		title.DisableColor()
		label.DisableColor()
	}

	title.Fprintf(w, "solebridge %s\n", formatVersion(version))
	label.Fprint(w, "  viewers:  ")
	fmt.Fprintf(w, "ws://%s/ws\n", addr)
	label.Fprint(w, "  status:   ")
	fmt.Fprintf(w, "http://%s/api/status\n", addr)
	if cfg.StaticDir != "" {
		label.Fprint(w, "  dashboard:")
		fmt.Fprintf(w, " http://%s/\n", addr)
	}
	label.Fprint(w, "  insoles:  ")
	fmt.Fprintf(w, "%s / %s (%s)\n", cfg.LeftName, cfg.RightName, cfg.WireFormat)
}
