package cli

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
)

// Help styles
var (
	helpDescStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			Italic(true).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(warnColor).
				MarginTop(1)

	helpFlagStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	helpDefaultStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Italic(true)
)

// StyledHelpPrinter returns a kong help printer with lipgloss styling.
func StyledHelpPrinter(description string) kong.HelpPrinter {
	return func(_ kong.HelpOptions, ctx *kong.Context) error {
		var sb strings.Builder

		sb.WriteString(TitleStyle.MarginBottom(0).Render(ctx.Model.Name))
		sb.WriteString("\n")
		sb.WriteString(helpDescStyle.Render(description))
		sb.WriteString("\n")

		sb.WriteString(helpSectionStyle.Render("Usage:"))
		sb.WriteString("\n  ")
		sb.WriteString(ctx.Model.Name + " [flags]")
		sb.WriteString("\n")

		sb.WriteString("\n")
		sb.WriteString(helpSectionStyle.Render("Flags:"))
		sb.WriteString("\n")
		for _, f := range flags(ctx) {
			sb.WriteString("  ")
			sb.WriteString(helpFlagStyle.Render(f.flags))
			if f.help != "" {
				sb.WriteString("  ")
				sb.WriteString(f.help)
			}
			if f.defaultVal != "" {
				sb.WriteString(" ")
				sb.WriteString(helpDefaultStyle.Render("(default: " + f.defaultVal + ")"))
			}
			sb.WriteString("\n")
		}

		sb.WriteString("\n")
		fmt.Fprint(ctx.Stdout, sb.String())
		return nil
	}
}

type flagHelp struct {
	flags      string
	help       string
	defaultVal string
}

func flags(ctx *kong.Context) []flagHelp {
	out := []flagHelp{{
		flags: "-h, --help",
		help:  "Show context-sensitive help.",
	}}

	for _, f := range ctx.Model.Node.Flags {
		if f.Name == "help" || f.Hidden {
			continue
		}

		s := "--" + f.Name
		if f.Short != 0 {
			s = fmt.Sprintf("-%c, --%s", f.Short, f.Name)
		}
		if !f.IsBool() {
			ph := f.PlaceHolder
			if ph == "" {
				ph = f.Name
			}
			s += "=" + strings.ToUpper(ph)
		}

		out = append(out, flagHelp{
			flags:      s,
			help:       f.Help,
			defaultVal: f.Default,
		})
	}
	return out
}
