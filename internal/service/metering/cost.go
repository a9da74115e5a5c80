package metering

import "unicode"

// NonWhitespaceChars counts the characters in text that are not
// whitespace, by rune.
func NonWhitespaceChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// CostOf converts a text volume to food units: ceil(chars/charsPerFood).
// Empty text costs zero.
func CostOf(text string, charsPerFood int) int64 {
	chars := NonWhitespaceChars(text)
	if chars == 0 {
		return 0
	}
	return int64((chars + charsPerFood - 1) / charsPerFood)
}
