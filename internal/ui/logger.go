package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	clrDim    = color.New(color.FgHiBlack)
	clrSubtle = color.New(color.FgWhite)

	clrSuccess = color.New(color.FgGreen)
	clrError   = color.New(color.FgRed)
	clrWarning = color.New(color.FgYellow)
	clrInfo    = color.New(color.FgBlue)

	badgePrimary = color.New(color.BgMagenta, color.FgWhite, color.Bold)
)

const (
	boxTopLeft     = "╭"
	boxTopRight    = "╮"
	boxBottomLeft  = "╰"
	boxBottomRight = "╯"
	boxHorizontal  = "─"
	boxVertical    = "│"
	boxWidth       = 60
)

// boxLine renders one interior line of the banner box, padding content to
// boxWidth using VisibleWidth so ANSI styling never throws off alignment.
func boxLine(content string) string {
	return clrDim.Sprint(boxVertical) + "  " + PadRight(content, boxWidth-2) + clrDim.Sprint(boxVertical)
}

// PrintBanner displays the startup header.
func PrintBanner() {
	fmt.Println()

	badge := badgePrimary.Sprint(" ◆ SSLPROXY ")
	version := clrDim.Sprint("v1.0.0")

	topBorder := clrDim.Sprint(boxTopLeft + strings.Repeat(boxHorizontal, boxWidth) + boxTopRight)
	fmt.Println(topBorder)
	fmt.Println(boxLine(badge + " " + version))
	fmt.Println(boxLine(clrSubtle.Sprint("Transparent TLS Interceptor")))
	bottomBorder := clrDim.Sprint(boxBottomLeft + strings.Repeat(boxHorizontal, boxWidth) + boxBottomRight)
	fmt.Println(bottomBorder)
	fmt.Println()
}

// LogStatus displays a status message with appropriate styling.
func LogStatus(category, message string) {
	ts := clrDim.Sprint(time.Now().Format("15:04:05"))

	var icon string
	var styledMsg string

	switch category {
	case "success":
		icon = clrSuccess.Sprint("✔")
		styledMsg = clrSuccess.Sprint(message)
	case "error":
		icon = clrError.Sprint("✖")
		styledMsg = clrError.Sprint(message)
	case "warn":
		icon = clrWarning.Sprint("⚠")
		styledMsg = Warn(message)
	case "info":
		icon = clrInfo.Sprint("ℹ")
		styledMsg = clrSubtle.Sprint(message)
	default:
		icon = clrDim.Sprint("●")
		styledMsg = clrSubtle.Sprint(message)
	}

	fmt.Printf("%s  %s  %s\n", ts, icon, styledMsg)
}

// LogSection creates a section header, right-padded with a rule to a fixed
// visible width regardless of the title's own styling.
func LogSection(title string) {
	fmt.Println()
	rule := strings.Repeat("─", 50-VisibleWidth(title))
	header := fmt.Sprintf("%s %s %s", clrDim.Sprint("──"), Heading(title), clrDim.Sprint(rule))
	fmt.Println(header)
}

// LogConnect renders the connect-log line described by the connect-log
// line format (plain/passthrough/ssl/http variants share one renderer;
// callers pass pre-built field strings, "-" for anything absent).
func LogConnect(line string) {
	ts := clrDim.Sprint(time.Now().Format("15:04:05"))
	fmt.Printf("%s  %s  %s\n", ts, clrSuccess.Sprint("→"), clrSubtle.Sprint(line))
}

// LogGracefulShutdown announces a shutdown in progress.
func LogGracefulShutdown() {
	LogStatus("warn", "Shutting down, draining active interceptions...")
}

// PrintSeparator prints a subtle horizontal separator.
func PrintSeparator() {
	fmt.Println(clrDim.Sprint("  " + strings.Repeat("─", 56)))
}
