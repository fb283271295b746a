package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/vaultsync/internal/version"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
	header = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

const banner = `
 __   __         _ _   ___
 \ \ / /_ _ _  _| | |_/ __|_  _ _ _  __
  \ V / _' | || | |  _\__ \ || | ' \/ _|
   \_/\__,_|\_,_|_|\__|___/\_, |_||_\__|
                           |__/`

func showHeader(w io.Writer) {
	fmt.Fprintln(w, header.Render(banner))
	fmt.Fprintln(w, gray.Render("  "+version.Short()))
	fmt.Fprintln(w)
}

// row prints an aligned "label value" line.
func row(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", gray.Render(fmt.Sprintf("%-18s", label)), value)
}
