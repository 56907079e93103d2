package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the colors of every TUI element.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	// Message thread.
	SelfColor    tcell.Color
	PeerColor    tcell.Color
	PendingColor tcell.Color
	FailedColor  tcell.Color
	UnreadColor  tcell.Color

	// Live connection indicator in the header.
	OnlineColor  tcell.Color
	OfflineColor tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorLightGray,
		BorderColor:       tcell.ColorTeal,
		BorderFocusColor:  tcell.ColorAquaMarine,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorMediumAquamarine,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorGold,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorMediumAquamarine,
		MenuKeyColor:      tcell.ColorMediumAquamarine,
		NumericKeyColor:   tcell.ColorPlum,
		TitleColor:        tcell.ColorGold,
		CounterColor:      tcell.ColorWheat,
		FlashInfoColor:    tcell.ColorLightCyan,
		FlashWarnColor:    tcell.ColorGold,
		FlashErrColor:     tcell.ColorTomato,
		PromptBorderColor: tcell.ColorMediumAquamarine,
		SelfColor:         tcell.ColorMediumAquamarine,
		PeerColor:         tcell.ColorGold,
		PendingColor:      tcell.ColorGray,
		FailedColor:       tcell.ColorTomato,
		UnreadColor:       tcell.ColorWheat,
		OnlineColor:       tcell.ColorLimeGreen,
		OfflineColor:      tcell.ColorGray,
	}
}

// ColorName returns the tview color tag for c.
func ColorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
