// Package credentials resolves the optional cookie bundle passed to the
// upstream on every request.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const DefaultCookiesFile = "cookies.txt"

// Environment overrides, checked in order.
var EnvKeys = []string{"YTDLP_COOKIES", "YOUTUBE_COOKIES"}

const (
	SourceFlag    = "flag"
	SourceDefault = "default"
	SourceNone    = "none"
)

type Credentials struct {
	Path   string `json:"path,omitempty"`
	Source string `json:"source"`
}

func (c Credentials) Authenticated() bool {
	return strings.TrimSpace(c.Path) != ""
}

type Options struct {
	// Explicit path from the command line. A missing explicit file is an error.
	Explicit string
	// DefaultPath overrides DefaultCookiesFile.
	DefaultPath string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Store loads credentials once and hands the same value to every caller.
type Store struct {
	opts   Options
	logger zerolog.Logger

	once  sync.Once
	creds Credentials
	err   error
}

func NewStore(opts Options, logger zerolog.Logger) *Store {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if strings.TrimSpace(opts.DefaultPath) == "" {
		opts.DefaultPath = DefaultCookiesFile
	}
	return &Store{opts: opts, logger: logger}
}

func (s *Store) Load() (Credentials, error) {
	s.once.Do(func() {
		s.creds, s.err = resolve(s.opts, s.logger)
		if s.err != nil {
			return
		}
		if s.creds.Authenticated() {
			s.logger.Info().Str("path", s.creds.Path).Str("source", s.creds.Source).Msg("using cookies")
		} else {
			s.logger.Warn().Msg("no cookies file found; requests are unauthenticated and more likely to be rate limited")
		}
	})
	return s.creds, s.err
}

// CookiesPath returns the resolved path, or "" when running unauthenticated.
func (s *Store) CookiesPath() string {
	c, err := s.Load()
	if err != nil {
		return ""
	}
	return c.Path
}

func resolve(opts Options, logger zerolog.Logger) (Credentials, error) {
	if p := strings.TrimSpace(opts.Explicit); p != "" {
		abs, err := checkFile(p)
		if err != nil {
			return Credentials{}, err
		}
		return Credentials{Path: abs, Source: SourceFlag}, nil
	}
	for _, key := range EnvKeys {
		p := strings.TrimSpace(opts.Getenv(key))
		if p == "" {
			continue
		}
		abs, err := checkFile(expandHome(p))
		if err != nil {
			logger.Warn().Err(err).Str("env", key).Msg("ignoring cookies from environment")
			continue
		}
		return Credentials{Path: abs, Source: "env:" + key}, nil
	}
	if abs, err := checkFile(opts.DefaultPath); err == nil {
		return Credentials{Path: abs, Source: SourceDefault}, nil
	}
	return Credentials{Source: SourceNone}, nil
}

func checkFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("cookies file %s is not a regular file", abs)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("cookies file %s is empty", abs)
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("open cookies file %s: %w", abs, err)
	}
	_ = f.Close()
	return abs, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
