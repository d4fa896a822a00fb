package ingest

import (
	"fmt"
	"strings"
)

const (
	ProxyModeOff       = "off"
	ProxyModePerWorker = "per_worker"
)

func NormalizeProxyMode(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ProxyModeOff:
		return ProxyModeOff, nil
	case ProxyModePerWorker:
		return ProxyModePerWorker, nil
	default:
		return "", fmt.Errorf("invalid proxy mode %q (expected %s or %s)", strings.TrimSpace(raw), ProxyModeOff, ProxyModePerWorker)
	}
}

func normalizeProxyList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func validateProxies(mode string, proxies []string, workers int) error {
	if mode != ProxyModePerWorker {
		return nil
	}
	if len(proxies) == 0 {
		return fmt.Errorf("proxy mode %q requires at least one proxy", ProxyModePerWorker)
	}
	if workers > len(proxies) {
		return fmt.Errorf("proxy mode %q requires at least %d proxies for %d workers", ProxyModePerWorker, workers, workers)
	}
	return nil
}

// proxyForWorker maps 1-based worker N to proxy N.
func proxyForWorker(workerID int, mode string, proxies []string) string {
	if mode != ProxyModePerWorker {
		return ""
	}
	if workerID <= 0 || workerID > len(proxies) {
		return ""
	}
	return proxies[workerID-1]
}
