package narration

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into segments of at most maxChars runes, preferring
// sentence boundaries and falling back to word boundaries for sentences that
// do not fit. A single word longer than maxChars is returned as its own
// oversized chunk rather than being cut. Whitespace between words is
// normalized to single spaces; no chunk is empty.
//
// A non-positive maxChars disables the bound.
func Chunk(text string, maxChars int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	if maxChars <= 0 {
		return []string{strings.Join(sentences, " ")}
	}

	var (
		chunks []string
		cur    string
	)
	flush := func() {
		if cur != "" {
			chunks = append(chunks, cur)
			cur = ""
		}
	}
	add := func(piece string) {
		switch {
		case cur == "":
			cur = piece
		case runeLen(cur)+1+runeLen(piece) <= maxChars:
			cur += " " + piece
		default:
			flush()
			cur = piece
		}
	}

	for _, sentence := range sentences {
		if runeLen(sentence) <= maxChars {
			add(sentence)
			continue
		}
		// No natural break fits; accumulate word by word.
		flush()
		for _, word := range strings.Fields(sentence) {
			if runeLen(word) > maxChars {
				flush()
				chunks = append(chunks, word)
				continue
			}
			add(word)
		}
	}
	flush()

	return chunks
}

// splitSentences breaks text after terminal punctuation that is followed by
// whitespace. Closing quotes and brackets stay with their sentence.
func splitSentences(text string) []string {
	var (
		sentences []string
		words     []string
	)
	for _, word := range strings.Fields(text) {
		words = append(words, word)
		if endsSentence(word) {
			sentences = append(sentences, strings.Join(words, " "))
			words = words[:0]
		}
	}
	if len(words) > 0 {
		sentences = append(sentences, strings.Join(words, " "))
	}
	return sentences
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]}»”’`)
	if trimmed == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
