package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet avoids '-' and '_' so ids are safe inside SQL identifiers,
// queue routing keys and topic-map locators.
const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const idLength = 21

// NewID returns a random identifier, prefixed when prefix is not empty.
func NewID(prefix string) (string, error) {
	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return id, nil
	}
	return prefix + "." + id, nil
}
