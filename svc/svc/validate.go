package svc

import (
	"bettergist/pkg/domain"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type Limits struct {
	MaxFiles   int
	MaxBytes   int64
	MaxNameLen int
}

// NormalizeFiles checks a share request and returns the files to store.
// Names are trimmed and NFC-normalized; content is kept byte for byte.
func NormalizeFiles(files []domain.File, l Limits) ([]domain.File, error) {
	if len(files) == 0 {
		return nil, domain.ErrFilesRequired
	}
	if l.MaxFiles > 0 && len(files) > l.MaxFiles {
		return nil, domain.ErrTooManyFiles
	}
	out := make([]domain.File, len(files))
	var total int64
	for i, f := range files {
		name := norm.NFC.String(strings.TrimSpace(f.Name))
		if !validName(name, l.MaxNameLen) {
			return nil, domain.ErrInvalidFileName
		}
		if !utf8.ValidString(f.Content) {
			return nil, domain.ErrInvalidContent
		}
		total += int64(len(f.Content))
		if l.MaxBytes > 0 && total > l.MaxBytes {
			return nil, domain.ErrSnippetTooLarge
		}
		out[i] = domain.File{Name: name, Content: f.Content}
	}
	return out, nil
}
func validName(name string, maxLen int) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if maxLen > 0 && len(name) > maxLen {
		return false
	}
	if !utf8.ValidString(name) {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
