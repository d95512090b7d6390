package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"

	"github.com/polyrepo-tools/polybuild/pkg/errors"
)

// Widen returns a constraint that admits newVersion, changing the original
// as little as possible and preserving its bound style. The policy is the
// single source of truth for how bump propagation rewrites constraints:
//
//   - a constraint that already admits newVersion is returned unchanged
//   - "*" is never touched
//   - exact pins re-pin to newVersion, keeping the "==", "=" or bare spelling
//   - caret and tilde shorthands re-anchor at newVersion ("^1.2" -> "^2.0.0")
//   - comma-separated ranges keep every satisfied bound; a violated "<" upper
//     bound is raised to the next major of newVersion, a violated "<=" bound
//     to newVersion itself, and a violated lower bound is lowered to newVersion
//   - when newVersion carries a prerelease, lower bounds anchor at the
//     prerelease itself (">=0.4" -> ">=0.4.3-rc.1") so the range names it and
//     admits it; a range left without any prerelease mention gains a "-0"
//     floor on its upper bound instead, keeping the release set identical
//
// The second return value reports whether the constraint changed.
func Widen(raw string, newVersion Version) (string, bool, error) {
	c, err := ParseConstraint(raw)
	if err != nil {
		return "", false, err
	}
	if newVersion.v == nil {
		return "", false, errors.New(errors.ErrCodeInvalidVersion, "cannot widen %q for zero version", raw)
	}
	if Satisfies(newVersion, c) {
		return raw, false, nil
	}

	widened, err := widen(strings.TrimSpace(raw), newVersion)
	if err != nil {
		return "", false, err
	}

	// The rewritten constraint must admit the version it was widened for.
	wc, err := ParseConstraint(widened)
	if err != nil || !Satisfies(newVersion, wc) {
		return "", false, errors.New(errors.ErrCodeInvalidConstraint,
			"widening %q for %s produced invalid constraint %q", raw, newVersion, widened)
	}
	return widened, true, nil
}

func widen(raw string, nv Version) (string, error) {
	switch {
	case raw == "*" || raw == "":
		return raw, nil
	case strings.HasPrefix(raw, "^"):
		return "^" + nv.String(), nil
	case strings.HasPrefix(raw, "~"):
		return "~" + nv.String(), nil
	case strings.HasPrefix(raw, "=="):
		return "==" + nv.String(), nil
	case strings.HasPrefix(raw, "="):
		return "=" + nv.String(), nil
	}

	// A bare version is an exact pin.
	if _, err := mm.NewVersion(raw); err == nil {
		return nv.String(), nil
	}

	return widenRange(raw, nv)
}

// widenRange rewrites only the violated bounds of a comma- or space-separated
// AND range, preserving the original separator style.
func widenRange(raw string, nv Version) (string, error) {
	sep, parts := splitBounds(raw)
	mentions := false
	for i, part := range parts {
		bound := strings.TrimSpace(part)
		rewritten, err := widenBound(bound, nv)
		if err != nil {
			return "", err
		}
		parts[i] = rewritten
		if boundPrerelease(rewritten) != "" {
			mentions = true
		}
	}

	// A prerelease is only admitted once the range names one. A range with
	// a lower bound gets that from the anchored rewrite above; an
	// upper-bound-only range needs an explicit floor instead.
	if nv.v.Prerelease() != "" && !mentions {
		for i, part := range parts {
			floored, err := floorBound(strings.TrimSpace(part), nv)
			if err != nil {
				return "", err
			}
			parts[i] = floored
		}
	}
	return strings.Join(parts, sep), nil
}

// boundPrerelease returns the prerelease component of a bound's version, or
// "" when there is none or the bound is not an operator form.
func boundPrerelease(bound string) string {
	_, rest := splitOperator(bound)
	v, err := mm.NewVersion(strings.TrimSpace(rest))
	if err != nil {
		return ""
	}
	return v.Prerelease()
}

// floorBound rewrites an upper bound to admit prereleases without changing
// the releases it admits: "<X" becomes "<X-0", "<=X" becomes the equivalent
// "<" of X's next patch with a "-0" floor. When nv is a prerelease of the
// bound version itself, the "-0" floor would sit below it, so the bound
// becomes "<=" at nv instead. Lower bounds pass through.
func floorBound(bound string, nv Version) (string, error) {
	op, rest := splitOperator(bound)
	if op != "<" && op != "<=" {
		return bound, nil
	}
	bv, err := mm.NewVersion(strings.TrimSpace(rest))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConstraint, err, "parse bound %q", bound)
	}
	if bv.Prerelease() != "" {
		return bound, nil
	}
	if op == "<=" {
		next := bv.IncPatch()
		return "<" + next.String() + "-0", nil
	}
	floor, err := bv.SetPrerelease("0")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConstraint, err, "floor bound %q", bound)
	}
	if nv.v.Compare(&floor) >= 0 {
		return "<=" + nv.String(), nil
	}
	return "<" + bv.String() + "-0", nil
}

func splitBounds(raw string) (sep string, parts []string) {
	switch {
	case strings.Contains(raw, ", "):
		return ", ", strings.Split(raw, ", ")
	case strings.Contains(raw, ","):
		return ",", strings.Split(raw, ",")
	default:
		return " ", strings.Fields(raw)
	}
}

func widenBound(bound string, nv Version) (string, error) {
	op, rest := splitOperator(bound)
	if op == "" {
		return bound, nil
	}

	bv, err := mm.NewVersion(strings.TrimSpace(rest))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidConstraint, err, "parse bound %q", bound)
	}

	pre := nv.v.Prerelease() != "" && bv.Prerelease() == ""
	switch op {
	case "<":
		if nv.v.Compare(bv) >= 0 {
			return "<" + nextMajor(nv), nil
		}
	case "<=":
		if nv.v.Compare(bv) > 0 {
			return "<=" + nv.String(), nil
		}
	case ">=":
		if nv.v.Compare(bv) < 0 || pre {
			return ">=" + nv.String(), nil
		}
	case ">":
		if nv.v.Compare(bv) <= 0 || pre {
			return ">=" + nv.String(), nil
		}
	}
	return bound, nil
}

func splitOperator(bound string) (op, rest string) {
	for _, candidate := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(bound, candidate) {
			return candidate, bound[len(candidate):]
		}
	}
	return "", bound
}

func nextMajor(v Version) string {
	return fmt.Sprintf("%d.0.0", v.v.Major()+1)
}
