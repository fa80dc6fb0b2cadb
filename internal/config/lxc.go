package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fgeck/lxc-wold/internal/models"
)

// hwaddrKey matches the legacy lxc.network.hwaddr key and the indexed
// lxc.net.N.hwaddr key of LXC 2.1+.
var hwaddrKey = regexp.MustCompile(`^lxc\.(network|net\.\d+)\.hwaddr$`)

const (
	legacyHWAddrKey = "lxc.network.hwaddr"
	includeKey      = "lxc.include"

	// maxIncludeDepth bounds nested lxc.include, which also stops cycles.
	maxIncludeDepth = 16
)

type hwaddrEntry struct {
	key string
	val string
}

// networkLoader collects hwaddr entries in config order.
type networkLoader struct {
	entries []hwaddrEntry
}

// LoadNetwork collects the hardware addresses of a container from its LXC
// config file and from KEY=VAL defines, in that order. rcfile may be empty.
//
// lxc.include is followed in place, for files and for directories (their
// *.conf files in lexical order). A later lxc.net.N.hwaddr, from the config or
// from a define, replaces an earlier one with the same index and an empty
// value removes it. Each lxc.network.hwaddr line in a file is its own
// interface; a define for it replaces the last one. Addresses are kept
// verbatim.
func LoadNetwork(rcfile string, defines []string) (models.NetworkConfig, error) {
	var network models.NetworkConfig
	l := &networkLoader{}

	if rcfile != "" {
		if err := l.readFile(rcfile, 0); err != nil {
			return network, err
		}
	}

	for _, def := range defines {
		key, val, ok := splitDefine(def)
		if ok && hwaddrKey.MatchString(key) {
			l.define(key, val)
		}
	}

	for _, e := range l.entries {
		network.HWAddrs = append(network.HWAddrs, e.val)
	}
	return network, nil
}

func (l *networkLoader) readFile(path string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("failed to read container config %s: too many nested includes", path)
	}

	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read container config: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := splitDefine(line)
		switch {
		case !ok:
		case key == includeKey:
			if err := l.include(val, depth+1); err != nil {
				return err
			}
		case key == legacyHWAddrKey:
			if val != "" {
				l.entries = append(l.entries, hwaddrEntry{key, val})
			}
		case hwaddrKey.MatchString(key):
			l.set(key, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read container config: %w", err)
	}

	return nil
}

func (l *networkLoader) include(path string, depth int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read included config: %w", err)
	}
	if !info.IsDir() {
		return l.readFile(path, depth)
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.conf"))
	if err != nil {
		return fmt.Errorf("failed to list included config dir %s: %w", path, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := l.readFile(m, depth); err != nil {
			return err
		}
	}
	return nil
}

// set replaces the entry with the same key in place, or appends a new one.
func (l *networkLoader) set(key, val string) {
	for i := range l.entries {
		if l.entries[i].key != key {
			continue
		}
		if val == "" {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
		} else {
			l.entries[i].val = val
		}
		return
	}
	if val != "" {
		l.entries = append(l.entries, hwaddrEntry{key, val})
	}
}

func (l *networkLoader) define(key, val string) {
	if key != legacyHWAddrKey {
		l.set(key, val)
		return
	}

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].key != legacyHWAddrKey {
			continue
		}
		if val == "" {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
		} else {
			l.entries[i].val = val
		}
		return
	}
	if val != "" {
		l.entries = append(l.entries, hwaddrEntry{key, val})
	}
}

// splitDefine splits "key = value" into trimmed key and value.
func splitDefine(s string) (string, string, bool) {
	key, val, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(val), true
}
