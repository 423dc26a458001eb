package environment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionRequirement is a version range a module must satisfy.
type VersionRequirement struct {
	Name         string
	Module       string
	ProbeCommand []string
	Range        string

	constraints *semver.Constraints
}

// NewRequirement compiles a requirement.
func NewRequirement(name, module string, probe []string, rng string) (VersionRequirement, error) {
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return VersionRequirement{}, fmt.Errorf("invalid version range %q for %s: %w", rng, name, err)
	}
	return VersionRequirement{
		Name:         name,
		Module:       module,
		ProbeCommand: append([]string(nil), probe...),
		Range:        rng,
		constraints:  c,
	}, nil
}

// MustRequirement is NewRequirement that panics on an invalid range.
func MustRequirement(name, module string, probe []string, rng string) VersionRequirement {
	r, err := NewRequirement(name, module, probe, rng)
	if err != nil {
		panic(err)
	}
	return r
}

// Allows reports whether version, with any pre-release suffix removed,
// falls in the range.
func (r VersionRequirement) Allows(version string) bool {
	if r.constraints == nil || version == "" {
		return false
	}
	v, err := semver.NewVersion(VersionWithoutSuffix(version))
	if err != nil {
		return false
	}
	return r.constraints.Check(v)
}

func (r VersionRequirement) String() string {
	return fmt.Sprintf("%s %s", r.Name, r.Range)
}

// Satisfies reports whether env has a satisfying version for every
// requirement.
func Satisfies(env *RuntimeEnvironment, reqs []VersionRequirement) bool {
	for _, req := range reqs {
		if !req.Allows(env.Versions[req.Name]) {
			return false
		}
	}
	return true
}

// Unsatisfied returns a description of the first failing requirement, or
// the empty string.
func Unsatisfied(env *RuntimeEnvironment, reqs []VersionRequirement) string {
	for _, req := range reqs {
		v := env.Versions[req.Name]
		if req.Allows(v) {
			continue
		}
		if v == "" {
			return fmt.Sprintf("%s is not installed (requires %s)", req.Name, req.Range)
		}
		return fmt.Sprintf("%s %s does not satisfy %s", req.Name, v, req.Range)
	}
	return ""
}

var leadingVersion = regexp.MustCompile(`^\d+(\.\d+)*`)

// VersionWithoutSuffix strips any pre-release or local suffix:
// "4.0.0rc1" becomes "4.0.0".
func VersionWithoutSuffix(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if m := leadingVersion.FindString(v); m != "" {
		return m
	}
	return v
}

// CompareVersions orders two version strings, returning a negative number
// when a < b. Versions that do not parse fall back to string comparison.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(VersionWithoutSuffix(a))
	vb, errB := semver.NewVersion(VersionWithoutSuffix(b))
	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}
