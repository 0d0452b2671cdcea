package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the length PreprocessText truncates to when given a
// non-positive limit.
const DefaultMaxChars = 500

var markdown = strings.NewReplacer("**", "", "*", "", "`", "", "#", "")

// Sentence-ending punctuation gets a pause after it.
var pauses = strings.NewReplacer("。", "。 ", "！", "！ ", "？", "？ ")

const sentenceMarks = "。！？.!?"

// PreprocessText prepares a reply for speech: markdown markers are dropped,
// whitespace is collapsed, CJK sentence marks get a trailing pause and the
// result is cut to maxChars runes at the last sentence boundary that fits.
func PreprocessText(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	text = markdown.Replace(text)
	text = pauses.Replace(text)
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)[:maxChars]
	for i := len(runes) - 1; i > 0; i-- {
		if strings.ContainsRune(sentenceMarks, runes[i]) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return strings.TrimSpace(string(runes))
}

// saveAudioToFile saves audio data to a file
func saveAudioToFile(audioData []byte, filename string) error {
	if len(audioData) == 0 {
		return fmt.Errorf("audio data is empty")
	}

	dir := filepath.Dir(filename)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(filename, audioData, 0644); err != nil {
		return fmt.Errorf("failed to write audio file %s: %w", filename, err)
	}
	return nil
}

// formatOf maps a file name to the artifact format it should hold.
func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return "mp3"
	}
	return "wav"
}
