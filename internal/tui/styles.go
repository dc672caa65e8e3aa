package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPurple    = lipgloss.Color("#7D56F4")
	colorGreen     = lipgloss.Color("#04B575")
	colorRed       = lipgloss.Color("#FF4141")
	colorAmber     = lipgloss.Color("#FFB454")
	colorGray      = lipgloss.Color("#626262")
	colorLightGray = lipgloss.Color("#9e9e9e")
	colorWhite     = lipgloss.Color("#FFFFFF")
	colorBlue      = lipgloss.Color("#007BFF")

	// Header
	styleAppName = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorPurple).
			Padding(0, 1).
			Bold(true)

	styleRunLabel = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorBlue).
			Padding(0, 1)

	// Status board
	stylePhase = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	stylePhaseDone = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	styleStat = lipgloss.NewStyle().
			Foreground(colorWhite)

	styleStatLabel = lipgloss.NewStyle().
			Foreground(colorLightGray)

	styleStatFailed = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	styleActiveTable = lipgloss.NewStyle().
				Foreground(colorBlue)

	styleBarFill = lipgloss.NewStyle().
			Foreground(colorPurple)

	styleBarRest = lipgloss.NewStyle().
			Foreground(colorGray)

	// Log pane
	styleLogPane = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	styleLogLine = lipgloss.NewStyle().
			Foreground(colorLightGray)

	styleLogWarn = lipgloss.NewStyle().
			Foreground(colorAmber)

	styleLogError = lipgloss.NewStyle().
			Foreground(colorRed)

	// Footer
	styleKeyHint = lipgloss.NewStyle().
			Foreground(colorGray)

	styleCancelling = lipgloss.NewStyle().
			Foreground(colorAmber).
			Bold(true)
)
