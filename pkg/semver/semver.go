// Package semver wraps github.com/Masterminds/semver/v3 with the version and
// constraint operations polybuild needs: parsing, satisfaction checks, semantic
// bumps, and minimal constraint widening after a bump.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3.
type Version struct {
	v *mm.Version
}

// Constraint is a semantic version constraint.
//
// Examples:
// - ">=1.2.0, <2.0.0"
// - "^1.0.0"
// - "~1.4"
type Constraint struct {
	c   *mm.Constraints
	pre *mm.Constraints // prerelease-tolerant variant, nil unless the raw text names one
	raw string
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "parse version %q", raw)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseConstraint(raw string) (Constraint, error) {
	norm := normalizeConstraint(raw)
	c, err := mm.NewConstraint(norm)
	if err != nil {
		return Constraint{}, errors.Wrap(errors.ErrCodeInvalidConstraint, err, "parse constraint %q", raw)
	}
	return Constraint{c: c, pre: prereleaseTolerant(norm), raw: raw}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the version in its canonical form.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// IsZero reports whether v is the zero Version (never parsed).
func (v Version) IsZero() bool { return v.v == nil }

// String returns the constraint exactly as it was written in the manifest.
func (c Constraint) String() string { return c.raw }

// Satisfies reports whether v is admitted by c.
//
// Prerelease versions follow the Python packaging rule: a constraint admits
// them only when its text names a prerelease itself, or when it is the
// wildcard. Masterminds applies its prerelease exclusion per comparator, so
// ">=1.2.0-rc.1, <2.0" would reject 1.2.0-rc.1 at the upper bound; the
// tolerant variant built at parse time restores the whole-constraint rule.
func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	if c.c.Check(v.v) {
		return true
	}
	if v.v.Prerelease() != "" && c.pre != nil {
		return c.pre.Check(v.v)
	}
	return false
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// BumpKind selects the component incremented by a semantic bump.
type BumpKind int

const (
	BumpMajor BumpKind = iota
	BumpMinor
	BumpPatch
	BumpPrerelease
)

// String returns the lower-case bump kind name.
func (k BumpKind) String() string {
	switch k {
	case BumpMajor:
		return "major"
	case BumpMinor:
		return "minor"
	case BumpPatch:
		return "patch"
	case BumpPrerelease:
		return "prerelease"
	default:
		return "unknown"
	}
}

// Bump returns the version obtained by applying kind to v.
//
// For BumpPrerelease, label names the prerelease channel (e.g., "rc"). If v
// already carries a prerelease on the same channel with a numeric suffix, the
// suffix is incremented; otherwise the patch component is bumped and the
// prerelease is set to "<label>.1".
func Bump(v Version, kind BumpKind, label string) (Version, error) {
	if v.v == nil {
		return Version{}, errors.New(errors.ErrCodeInvalidVersion, "cannot bump zero version")
	}

	switch kind {
	case BumpMajor:
		nv := v.v.IncMajor()
		return Version{v: &nv}, nil
	case BumpMinor:
		nv := v.v.IncMinor()
		return Version{v: &nv}, nil
	case BumpPatch:
		nv := v.v.IncPatch()
		return Version{v: &nv}, nil
	case BumpPrerelease:
		if label == "" {
			label = "rc"
		}
		return bumpPrerelease(v, label)
	default:
		return Version{}, errors.New(errors.ErrCodeInvalidInput, "unknown bump kind %d", kind)
	}
}

func bumpPrerelease(v Version, label string) (Version, error) {
	pre := v.v.Prerelease()
	prefix := label + "."
	if strings.HasPrefix(pre, prefix) {
		if n, err := strconv.Atoi(pre[len(prefix):]); err == nil {
			nv, err := v.v.SetPrerelease(fmt.Sprintf("%s.%d", label, n+1))
			if err != nil {
				return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "set prerelease on %s", v)
			}
			return Version{v: &nv}, nil
		}
	}

	base := v.v.IncPatch()
	nv, err := base.SetPrerelease(label + ".1")
	if err != nil {
		return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "set prerelease on %s", v)
	}
	return Version{v: &nv}, nil
}

// prereleaseTolerant returns a variant of the normalized constraint whose
// range bounds carry an explicit "-0" prerelease floor, or nil when the
// constraint never names a prerelease. The floor keeps the admitted release
// set identical while letting prerelease versions through Masterminds'
// per-comparator exclusion. The wildcard admits everything, prereleases
// included, since a local dependency tracks whatever the workspace holds.
func prereleaseTolerant(norm string) *mm.Constraints {
	if norm == "*" {
		c, err := mm.NewConstraint(">=0.0.0-0")
		if err != nil {
			return nil
		}
		return c
	}

	sep, parts := splitBounds(norm)
	mentions := false
	for i, part := range parts {
		op, rest := splitOperator(strings.TrimSpace(part))
		v, err := mm.NewVersion(strings.TrimSpace(rest))
		if err != nil {
			// Shorthand (^, ~) or pin bounds pass Masterminds' check
			// directly once they carry a prerelease; no variant needed.
			return nil
		}
		if v.Prerelease() != "" {
			mentions = true
			continue
		}
		switch op {
		case "":
			// A bare pin; flooring it would change equality.
		case "<=":
			// "<=X" admits X and its prereleases, which sit above the
			// "-0" floor of X, so the floor goes on X's next patch.
			next := v.IncPatch()
			parts[i] = "<" + next.String() + "-0"
		default:
			parts[i] = op + v.String() + "-0"
		}
	}
	if !mentions {
		return nil
	}
	c, err := mm.NewConstraint(strings.Join(parts, sep))
	if err != nil {
		return nil
	}
	return c
}

// normalizeConstraint maps PEP-style operators onto the syntax Masterminds
// accepts. Only "==" and "!=" spellings differ; range and shorthand operators
// are shared between the two ecosystems.
func normalizeConstraint(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "*"
	}
	s = strings.ReplaceAll(s, "==", "=")
	return s
}
