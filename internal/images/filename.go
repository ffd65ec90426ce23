package images

import "strings"

// GeneratedFilename derives the on-disk name for a generated image from the
// first prefixLen characters of the prompt, spaces replaced by underscores.
// Other characters, including path separators, are kept.
func GeneratedFilename(prompt string, prefixLen int) string {
	runes := []rune(prompt)
	if prefixLen >= 0 && len(runes) > prefixLen {
		runes = runes[:prefixLen]
	}
	return "generated_" + strings.ReplaceAll(string(runes), " ", "_") + ".png"
}
