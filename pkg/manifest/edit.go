package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

// Document is an editable manifest. Edits are applied as line-level text
// replacements so that unrelated formatting, ordering, and comments survive
// a bump or add operation and version-control diffs stay reviewable.
//
// All edits are staged in memory; nothing touches the filesystem until Save.
type Document struct {
	path  string
	lines []string
	// trailingNewline records whether the original file ended with \n,
	// so Bytes reproduces the file byte-for-byte when nothing changed.
	trailingNewline bool
}

var (
	sectionRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*(?:#.*)?$`)
	keyRe     = regexp.MustCompile(`^(\s*)([A-Za-z0-9._-]+|"[^"]+")(\s*=\s*)(.*)$`)
	versionRe = regexp.MustCompile(`(version\s*=\s*")([^"]*)(")`)
)

// LoadDocument reads the manifest at path for editing.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiscoveryIO, err, "read %s", path)
	}
	text := string(data)
	return &Document{
		path:            path,
		lines:           strings.Split(strings.TrimSuffix(text, "\n"), "\n"),
		trailingNewline: strings.HasSuffix(text, "\n"),
	}, nil
}

// Path returns the manifest location this document was loaded from.
func (d *Document) Path() string { return d.path }

// Bytes returns the current document text.
func (d *Document) Bytes() []byte {
	text := strings.Join(d.lines, "\n")
	if d.trailingNewline {
		text += "\n"
	}
	return []byte(text)
}

// SetVersion rewrites the version value in [tool.poetry].
func (d *Document) SetVersion(version string) error {
	sections := sectionIndex(d.lines)
	for i, line := range d.lines {
		if sections[i] != "tool.poetry" {
			continue
		}
		m := keyRe.FindStringSubmatch(line)
		if m == nil || unquoteKey(m[2]) != "version" {
			continue
		}
		value, ok := replaceQuoted(m[4], version)
		if !ok {
			return errors.New(errors.ErrCodeDiscoveryManifest, "%s: unrecognized version value %q", d.path, m[4])
		}
		d.lines[i] = m[1] + m[2] + m[3] + value
		return nil
	}
	return errors.New(errors.ErrCodeDiscoveryManifest, "%s: no version key in [tool.poetry]", d.path)
}

// SetConstraint rewrites the version constraint of the named dependency in
// the main group or any optional group. It returns false when the dependency
// is declared without a version (a bare local-path entry has nothing to
// widen).
func (d *Document) SetConstraint(dep, constraint string) (bool, error) {
	dep = Normalize(dep)
	sections := sectionIndex(d.lines)
	for i, line := range d.lines {
		if !isDependencySection(sections[i]) {
			continue
		}
		m := keyRe.FindStringSubmatch(line)
		if m == nil || Normalize(unquoteKey(m[2])) != dep {
			continue
		}

		value := m[4]
		if strings.HasPrefix(strings.TrimSpace(value), "{") {
			// Inline table: rewrite its version key if present.
			if !versionRe.MatchString(value) {
				return false, nil
			}
			d.lines[i] = m[1] + m[2] + m[3] + versionRe.ReplaceAllString(value, "${1}"+constraint+"${3}")
			return true, nil
		}

		rewritten, ok := replaceQuoted(value, constraint)
		if !ok {
			return false, errors.New(errors.ErrCodeDiscoveryManifest, "%s: unrecognized constraint value %q for %s", d.path, value, dep)
		}
		d.lines[i] = m[1] + m[2] + m[3] + rewritten
		return true, nil
	}
	return false, errors.New(errors.ErrCodePackageNotFound, "%s: dependency %q not declared", d.path, dep)
}

// AddDependency appends a dependency declaration to [tool.poetry.dependencies].
// Adding an already-declared dependency is a no-op, not an error, so repeated
// add invocations are safe to script; the return value reports whether the
// document changed.
func (d *Document) AddDependency(dep Dependency) (bool, error) {
	if d.hasDependency(dep.Name) {
		return false, nil
	}

	entry := formatDependency(dep)
	start, end := d.sectionSpan("tool.poetry.dependencies")
	if start < 0 {
		// No dependencies section yet; create one at the end.
		if len(d.lines) > 0 && strings.TrimSpace(d.lines[len(d.lines)-1]) != "" {
			d.lines = append(d.lines, "")
		}
		d.lines = append(d.lines, "[tool.poetry.dependencies]", entry)
		d.trailingNewline = true
		return true, nil
	}

	// Insert after the last non-blank line of the section.
	insert := start + 1
	for i := start + 1; i < end; i++ {
		if strings.TrimSpace(d.lines[i]) != "" {
			insert = i + 1
		}
	}
	d.lines = append(d.lines[:insert], append([]string{entry}, d.lines[insert:]...)...)
	return true, nil
}

// Save validates the edited text by re-parsing it, then replaces the file
// atomically (temp file + rename) so a crash mid-write never leaves a
// corrupted manifest behind.
func (d *Document) Save() error {
	data := d.Bytes()

	var check pyproject
	if err := toml.Unmarshal(data, &check); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "edited %s is no longer valid TOML", d.path)
	}

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".pyproject-*.toml")
	if err != nil {
		return errors.Wrap(errors.ErrCodeDiscoveryIO, err, "stage %s", d.path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeDiscoveryIO, err, "stage %s", d.path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeDiscoveryIO, err, "stage %s", d.path)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeDiscoveryIO, err, "replace %s", d.path)
	}
	return nil
}

func (d *Document) hasDependency(name string) bool {
	name = Normalize(name)
	sections := sectionIndex(d.lines)
	for i, line := range d.lines {
		if sections[i] != "tool.poetry.dependencies" {
			continue
		}
		if m := keyRe.FindStringSubmatch(line); m != nil && Normalize(unquoteKey(m[2])) == name {
			return true
		}
	}
	return false
}

// sectionSpan returns the index of the section header and the index one past
// the section's last line, or (-1, -1) when the section is absent.
func (d *Document) sectionSpan(section string) (start, end int) {
	start = -1
	for i, line := range d.lines {
		m := sectionRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if start >= 0 {
			return start, i
		}
		if m[1] == section {
			start = i
		}
	}
	if start >= 0 {
		return start, len(d.lines)
	}
	return -1, -1
}

// sectionIndex returns, for each line, the TOML section it belongs to.
func sectionIndex(lines []string) []string {
	sections := make([]string, len(lines))
	current := ""
	for i, line := range lines {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			current = m[1]
		}
		sections[i] = current
	}
	return sections
}

func isDependencySection(section string) bool {
	if section == "tool.poetry.dependencies" {
		return true
	}
	return strings.HasPrefix(section, "tool.poetry.group.") && strings.HasSuffix(section, ".dependencies")
}

func unquoteKey(key string) string {
	return strings.Trim(key, `"`)
}

// replaceQuoted swaps the contents of a quoted scalar, preserving the quote
// style and any trailing comment.
func replaceQuoted(value, replacement string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 2 {
		return "", false
	}
	quote := trimmed[0]
	if quote != '"' && quote != '\'' {
		return "", false
	}
	rest := trimmed[1:]
	closing := strings.IndexByte(rest, quote)
	if closing < 0 {
		return "", false
	}
	suffix := rest[closing+1:]
	return string(quote) + replacement + string(quote) + suffix, true
}

func formatDependency(dep Dependency) string {
	if dep.Kind == KindLocalPath {
		parts := []string{fmt.Sprintf("path = %q", dep.Path)}
		if dep.Develop {
			parts = append(parts, "develop = true")
		}
		if dep.Constraint != "" && dep.Constraint != "*" {
			parts = append(parts, fmt.Sprintf("version = %q", dep.Constraint))
		}
		return fmt.Sprintf("%s = { %s }", dep.Name, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s = %q", dep.Name, dep.Constraint)
}
