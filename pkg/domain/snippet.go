package domain

import (
	"time"
)

type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
type Snippet struct {
	ID        string    `json:"id"`
	Files     []File    `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Snippet) Size() int {
	n := 0
	for _, f := range s.Files {
		n += len(f.Content)
	}
	return n
}
func CloneFiles(files []File) []File {
	out := make([]File, len(files))
	copy(out, files)
	return out
}
