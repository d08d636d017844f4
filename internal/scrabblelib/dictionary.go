package scrabblelib

import (
	"bufio"
	"os"
	"strings"
)

// starterWords is used when no word list file is configured or
// present, so the server is runnable without external assets.
var starterWords = []string{
	"CAT", "CATS", "DOG", "DOGS", "RATES", "RATE", "RATS", "TARES",
	"STARE", "STARED", "TEASER", "EASE", "SEAT", "SEATS", "TEA", "TEAS",
}

// Dictionary is a frozen set of valid challenge words, loaded once at
// startup. Blanks are never present in a dictionary entry, so a word
// still containing an unresolved blank marker is always invalid.
type Dictionary struct {
	words map[string]bool
}

// LoadDictionary reads a newline-delimited, case-insensitive word list
// from path. If path is empty or does not exist, it falls back to a
// small starter list rather than failing the whole server.
func LoadDictionary(path string) (*Dictionary, error) {
	words := map[string]bool{}
	for _, w := range starterWords {
		words[w] = true
	}

	if path == "" {
		return &Dictionary{words: words}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Dictionary{words: words}, nil
		}
		return nil, err
	}
	defer f.Close()

	words = map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if w != "" {
			words[w] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Dictionary{words: words}, nil
}

// IsValid reports whether word (case-insensitive) is in the
// dictionary.
func (d *Dictionary) IsValid(word string) bool {
	return d.words[strings.ToUpper(word)]
}
