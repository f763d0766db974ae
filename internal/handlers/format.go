package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Amounts are pounds sterling, grouped the British way.
var displayLanguage = language.BritishEnglish

func formatPounds(v float64) string {
	return message.NewPrinter(displayLanguage).Sprintf("£%.0f", v)
}

func formatPence(v float64) string {
	return message.NewPrinter(displayLanguage).Sprintf("£%.2f", v)
}

func formatCount(n int) string {
	return message.NewPrinter(displayLanguage).Sprintf("%d", n)
}
