package accesskit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a compiled resource pattern.
//
// Supported syntax:
//   - URL: Ant style. "*" matches one path segment, "**" any number of
//     segments, "{id}" a single path variable segment.
//   - Method: dotted signature with "*" wildcards inside a segment and
//     ".." for any number of packages, e.g. "io.app..*Service.order*".
//   - Pointcut: "execution(* io.app.*Service.*(..))". The return type and
//     argument list are ignored; the signature part is matched like a
//     method pattern.
//
// Outside path variables, "{", "}", "[", "]" and "\" are rejected.
type Pattern struct {
	raw        string
	typ        ResourceType
	httpMethod string
	glob       string
}

const globMeta = `{}[]\`

var pathVariable = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*(:[^}]*)?\}`)

// CompilePattern compiles a pattern of the given type. An empty httpMethod matches any method.
func CompilePattern(typ ResourceType, pattern, httpMethod string) (*Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	var glob string
	switch typ {
	case ResourceTypeURL, "":
		typ = ResourceTypeURL
		if !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("%w: url pattern %q must start with /", ErrInvalidPattern, pattern)
		}
		glob = pathVariable.ReplaceAllString(pattern, "*")
	case ResourceTypeMethod:
		glob = signatureGlob(stripArguments(pattern))
	case ResourceTypePointcut:
		sig, err := pointcutSignature(pattern)
		if err != nil {
			return nil, err
		}
		glob = signatureGlob(sig)
	default:
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidRule, typ)
	}

	// Braces, classes and escapes have no Ant meaning; path variables are
	// already replaced at this point.
	if strings.ContainsAny(glob, globMeta) {
		return nil, fmt.Errorf("%w: %q contains one of %q", ErrInvalidPattern, pattern, globMeta)
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	return &Pattern{
		raw:        pattern,
		typ:        typ,
		httpMethod: strings.ToUpper(strings.TrimSpace(httpMethod)),
		glob:       glob,
	}, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(typ ResourceType, pattern, httpMethod string) *Pattern {
	p, err := CompilePattern(typ, pattern, httpMethod)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the key is covered by the pattern.
func (p *Pattern) Matches(key ResourceKey) bool {
	if p.typ.invocation() != key.Type.invocation() {
		return false
	}
	if p.typ.invocation() {
		ok, _ := doublestar.Match(p.glob, signaturePath(key.Path))
		return ok
	}
	if p.httpMethod != "" && !strings.EqualFold(p.httpMethod, key.HTTPMethod) {
		return false
	}
	ok, _ := doublestar.Match(p.glob, key.Path)
	return ok
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.raw
}

// Type returns the resource type of the pattern.
func (p *Pattern) Type() ResourceType {
	return p.typ
}

// HTTPMethod returns the HTTP method restriction, empty for any.
func (p *Pattern) HTTPMethod() string {
	return p.httpMethod
}

// ValidatePattern checks that a pattern compiles.
func ValidatePattern(typ ResourceType, pattern string) error {
	_, err := CompilePattern(typ, pattern, "")
	return err
}

// MatchPath is a convenience for matching a single URL pattern against a path.
// Invalid patterns never match.
//
// Examples:
//
//	MatchPath("/admin/**", "/admin/users/1") // true
//	MatchPath("/users/{id}", "/users/42")    // true
//	MatchPath("/users/*", "/users/42/edit")  // false
func MatchPath(pattern, path string) bool {
	p, err := CompilePattern(ResourceTypeURL, pattern, "")
	if err != nil {
		return false
	}
	return p.Matches(URLKey("", path))
}

// MatchAny checks if any of the patterns match the key.
func MatchAny(patterns []*Pattern, key ResourceKey) (*Pattern, bool) {
	for _, p := range patterns {
		if p.Matches(key) {
			return p, true
		}
	}
	return nil, false
}

// CompilePermitAll compiles a list of URL patterns that skip voting.
func CompilePermitAll(patterns []string) ([]*Pattern, error) {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		method, path := splitMethodPrefix(raw)
		p, err := CompilePattern(ResourceTypeURL, path, method)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return compiled, nil
}

// splitMethodPrefix accepts "GET /path" as well as "/path".
func splitMethodPrefix(raw string) (method, path string) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, ' '); i > 0 && !strings.HasPrefix(raw, "/") {
		return raw[:i], strings.TrimSpace(raw[i+1:])
	}
	return "", raw
}

func signatureGlob(sig string) string {
	parts := strings.Split(sig, "..")
	for i := range parts {
		parts[i] = strings.ReplaceAll(parts[i], ".", "/")
	}
	return strings.Join(parts, "/**/")
}

func signaturePath(sig string) string {
	return strings.ReplaceAll(stripArguments(sig), ".", "/")
}

func stripArguments(sig string) string {
	if i := strings.IndexByte(sig, '('); i >= 0 {
		return strings.TrimSpace(sig[:i])
	}
	return strings.TrimSpace(sig)
}

// pointcutSignature extracts "pkg.Type.method" from "execution(* pkg.Type.method(..))".
func pointcutSignature(expr string) (string, error) {
	const prefix = "execution("
	if !strings.HasPrefix(expr, prefix) || !strings.HasSuffix(expr, ")") {
		return "", fmt.Errorf("%w: pointcut %q must be an execution(...) expression", ErrInvalidPattern, expr)
	}
	inner := strings.TrimSpace(expr[len(prefix) : len(expr)-1])
	if open := strings.IndexByte(inner, '('); open >= 0 {
		if !strings.HasSuffix(inner, ")") {
			return "", fmt.Errorf("%w: unbalanced pointcut %q", ErrInvalidPattern, expr)
		}
		inner = strings.TrimSpace(inner[:open])
	}
	fields := strings.Fields(inner)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: pointcut %q needs a return type and a signature", ErrInvalidPattern, expr)
	}
	return fields[len(fields)-1], nil
}
