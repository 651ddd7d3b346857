// Copyright (C) 2026 LumenLearn AI (dev@lumenlearn.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Lumen CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Lumen color palette - warm lamplight ambers over evening indigos
var (
	// Primary palette (brightest to darkest)
	ColorLampBright  = lipgloss.Color("#FFC94D") // Bright amber - highlights, success
	ColorLampPrimary = lipgloss.Color("#F0A830") // Primary amber - main brand color
	ColorLampGlow    = lipgloss.Color("#D98E2B") // Glow amber - interactive elements
	ColorLampEmber   = lipgloss.Color("#B8741F") // Ember - borders, accents

	// Dark palette (for backgrounds, muted elements)
	ColorDusk     = lipgloss.Color("#3B3A60") // Dusk indigo
	ColorEvening  = lipgloss.Color("#2D2C4A") // Evening - darker backgrounds
	ColorMidnight = lipgloss.Color("#1C1B33") // Midnight - deep backgrounds
	ColorSlate    = lipgloss.Color("#565478") // Slate - muted text, borders

	// Semantic colors
	ColorSuccess = lipgloss.Color("#7EC96F") // Green for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#565478") // Slate for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style

	Source     lipgloss.Style
	Confidence lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorLampBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorLampPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorLampBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorLampEmber).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	Source:     lipgloss.NewStyle().Foreground(ColorLampGlow),
	Confidence: lipgloss.NewStyle().Foreground(ColorSlate).Italic(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
	IconLamp    Icon = "☀"
	IconBook    Icon = "▤"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconError.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Println(text)
	default:
		fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// Source prints one cited source line under an answer
func Source(title string, page string, score float64) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("SOURCE: %s\t%s\t%.3f\n", title, page, score)
	default:
		label := title
		if page != "" {
			label = fmt.Sprintf("%s, p.%s", title, page)
		}
		fmt.Printf("  %s %s %s\n",
			Styles.Muted.Render(string(IconBullet)),
			Styles.Source.Render(label),
			Styles.Muted.Render(fmt.Sprintf("(%.2f)", score)),
		)
	}
}

// Confidence prints the answer confidence footer
func Confidence(score float64) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Printf("CONFIDENCE: %.3f\n", score)
		return
	}
	fmt.Println(Styles.Confidence.Render(fmt.Sprintf("confidence %.0f%%", score*100)))
}
