package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"yt-audio-ingest/internal/runstore"
)

// Ref is one line of the playlists file: an optional operator-chosen name
// and the playlist URL.
type Ref struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

func (r Ref) Label() string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	return r.URL
}

// File keeps comment lines so a rewrite does not lose operator notes.
type File struct {
	Comments []string
	Refs     []Ref
}

var ErrNoPlaylists = errors.New("no playlist URLs found; add one playlist per line (lines starting with # are ignored)")

func ParseLine(line string) (Ref, error) {
	var ref Ref
	if strings.Contains(line, "|") {
		parts := strings.SplitN(line, "|", 2)
		ref.Name = strings.TrimSpace(parts[0])
		ref.URL = strings.TrimSpace(parts[1])
	} else {
		ref.URL = strings.TrimSpace(line)
	}
	if ref.URL == "" {
		return Ref{}, fmt.Errorf("playlist entry %q is missing a URL", strings.TrimSpace(line))
	}
	return ref, nil
}

func ParseFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open playlists file %s: %w", path, err)
	}
	defer f.Close()

	var out File
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			out.Comments = append(out.Comments, "")
			continue
		}
		if strings.HasPrefix(line, "#") {
			out.Comments = append(out.Comments, strings.TrimRight(raw, " \t"))
			continue
		}
		ref, err := ParseLine(line)
		if err != nil {
			return File{}, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if seen[ref.URL] {
			continue
		}
		seen[ref.URL] = true
		out.Refs = append(out.Refs, ref)
	}
	if err := sc.Err(); err != nil {
		return File{}, fmt.Errorf("read playlists file %s: %w", path, err)
	}
	if len(out.Refs) == 0 {
		return File{}, fmt.Errorf("%s: %w", path, ErrNoPlaylists)
	}
	return out, nil
}

// SaveFile rewrites path with comments first and one ref per line.
func SaveFile(path string, f File) error {
	lines := make([]string, 0, len(f.Comments)+len(f.Refs)+1)
	lines = append(lines, f.Comments...)
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	for _, ref := range f.Refs {
		if strings.TrimSpace(ref.Name) != "" {
			lines = append(lines, ref.Name+"|"+ref.URL)
		} else {
			lines = append(lines, ref.URL)
		}
	}
	return runstore.WriteBytes(path, []byte(strings.Join(lines, "\n")+"\n"))
}
