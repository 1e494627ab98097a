// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ignore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pattern is one compiled line of an ignore file.
type pattern struct {
	negate   bool
	dirOnly  bool
	anchored bool
	glob     string // doublestar glob, relative to the snapshot root
	baseGlob string // set when glob has no "/" component, for basename-only matching
}

// Matcher evaluates a compiled set of patterns against relative paths.
type Matcher struct {
	patterns []pattern
}

// Compile parses lines (as they'd appear in a .rnignore file, comments
// and blank lines already expected to be filtered by the caller, though
// blank lines and "#"-prefixed comments are tolerated here too).
func Compile(lines []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := compileLine(line)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", line, err)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

func compileLine(line string) (pattern, error) {
	p := pattern{}

	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasPrefix(line, `\!`) || strings.HasPrefix(line, `\#`) {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return p, fmt.Errorf("empty pattern after trimming anchors")
	}

	if strings.Contains(line, "/") {
		p.anchored = true
	}

	glob := line
	if !p.anchored {
		glob = "**/" + line
		p.baseGlob = line
	}
	p.glob = glob

	if _, err := doublestar.Match(p.glob, "sentinel"); err != nil {
		return p, err
	}
	return p, nil
}

// Match reports whether relPath (slash-separated, relative to the
// snapshot root) is ignored. isDir indicates whether relPath names a
// directory, for dirOnly patterns. Patterns are evaluated in file
// order; the last one that matches decides the verdict, so a later
// "!" negation can un-ignore a path an earlier pattern excluded.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	ignored := false

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if !p.matches(relPath) {
			continue
		}
		ignored = !p.negate
	}
	return ignored
}

func (p pattern) matches(relPath string) bool {
	if ok, _ := doublestar.Match(p.glob, relPath); ok {
		return true
	}
	if p.baseGlob != "" {
		if ok, _ := doublestar.Match(p.baseGlob, filepath.Base(relPath)); ok {
			return true
		}
	}
	return false
}
