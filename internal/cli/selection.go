package cli

import (
	"fmt"
	"strconv"
	"strings"

	"yt-audio-ingest/internal/playlist"
)

// parseSelection turns picker input into indexes of overviews. Tokens are
// comma separated 1-based numbers or playlist names; "a", "all" or an empty
// input selects everything. Order follows the input, repeats are dropped.
func parseSelection(input string, overviews []playlist.Overview) ([]int, error) {
	raw := strings.TrimSpace(input)
	if raw == "" || isSelectAll(raw) {
		return allIndexes(len(overviews)), nil
	}

	seen := make(map[int]bool)
	out := make([]int, 0, len(overviews))
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if isSelectAll(token) {
			return allIndexes(len(overviews)), nil
		}
		idx, err := selectionIndex(token, overviews)
		if err != nil {
			return nil, err
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	if len(out) == 0 {
		return allIndexes(len(overviews)), nil
	}
	return out, nil
}

func selectionIndex(token string, overviews []playlist.Overview) (int, error) {
	if n, err := strconv.Atoi(token); err == nil {
		if n < 1 || n > len(overviews) {
			return 0, fmt.Errorf("selection %d is out of range (1-%d)", n, len(overviews))
		}
		return n - 1, nil
	}
	for i, ov := range overviews {
		if strings.EqualFold(token, strings.TrimSpace(ov.Title)) || strings.EqualFold(token, strings.TrimSpace(ov.Ref.Name)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no playlist named %q", token)
}

func isSelectAll(token string) bool {
	switch strings.ToLower(token) {
	case "a", "all":
		return true
	}
	return false
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
