package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference points at one Secret Manager secret version. Configuration carries it as
//
//	secret://NAME[?version=N][&project=ID]
//
// with sm:// accepted as an alias. Slashes in NAME are folded to underscores since
// Secret Manager ids are flat, so secret://paystack/live and secret://paystack_live
// name the same secret.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference validates raw and fills in the latest version when none is given.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}

	name := strings.Trim(u.Host+u.Path, "/")
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	q := u.Query()
	ref := Reference{
		Name:    name,
		Version: strings.TrimSpace(q.Get("version")),
		Project: strings.TrimSpace(q.Get("project")),
	}
	if ref.Version == "" {
		ref.Version = latestVersion
	}
	return ref, nil
}

// Resource is the Secret Manager version resource name under project.
func (r Reference) Resource(project string) string {
	if r.Project != "" {
		project = r.Project
	}
	return "projects/" + project + "/secrets/" + r.Name + "/versions/" + r.Version
}

// EnvKey is the key the reference is looked up under in the local fallback file:
// the name upper-cased with dashes folded to underscores.
func (r Reference) EnvKey() string {
	return strings.ToUpper(strings.ReplaceAll(r.Name, "-", "_"))
}

func (r Reference) cacheKey() string {
	return r.Project + "/" + r.Name + "@" + r.Version
}
