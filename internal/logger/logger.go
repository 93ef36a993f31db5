package logger

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

var (
	colorEnabled = isatty.IsTerminal(os.Stdout.Fd())
	quiet        bool
)

// SetQuiet silences informational output; warnings and errors still print.
func SetQuiet(q bool) { quiet = q }

func paint(color, s string) string {
	if !colorEnabled {
		return s
	}
	return color + s + colorReset
}

// Info prints an informational message with a subsystem tag.
func Info(tag, msg string) {
	if quiet {
		return
	}
	fmt.Printf("%s %s\n", paint(colorCyan, "["+tag+"]"), msg)
}

// Success prints a success message with a subsystem tag.
func Success(tag, msg string) {
	if quiet {
		return
	}
	fmt.Printf("%s %s\n", paint(colorGreen, "["+tag+"]"), msg)
}

// Warn prints a warning message with a subsystem tag.
func Warn(tag, msg string) {
	fmt.Printf("%s %s\n", paint(colorYellow, "["+tag+"]"), msg)
}

// Error prints an error message with a subsystem tag.
func Error(tag, msg string) {
	fmt.Printf("%s %s\n", paint(colorRed, "["+tag+"]"), msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if quiet {
		return
	}
	if version == "" {
		version = "dev"
	}
	fmt.Println(paint(colorCyan, "finsim — CCP interbank network simulator"))
	fmt.Println(paint(colorGray, "version "+version))
}

// Section prints a section divider used to group run output.
func Section(title string) {
	if quiet {
		return
	}
	fmt.Printf("\n%s\n", paint(colorCyan, "── "+title+" "+dashes(60-len(title))))
}

// Stats prints a key/value pair aligned for summary tables.
func Stats(key string, value interface{}) {
	if quiet {
		return
	}
	fmt.Printf("  %-24s: %v\n", key, value)
}

func dashes(n int) string {
	if n < 0 {
		n = 0
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		out = append(out, "─"...)
	}
	return string(out)
}
