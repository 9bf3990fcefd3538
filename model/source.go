package model

import (
	"os"
	"path/filepath"
)

// Source is a text document handed to the mention extractor.
type Source struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// NewSourceFromFile reads a file into a Source with the file name as id.
func NewSourceFromFile(filePath string) (*Source, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, err
	}
	return &Source{
		ID:   filepath.Base(filePath),
		Text: string(content),
	}, nil
}
