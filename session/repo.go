package session

import (
	"fmt"
	"strings"
)

// Repo is a normalized target repository reference.
type Repo struct {
	Owner string
	Name  string
}

// String returns the canonical "owner/name" form.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// NormalizeRepo reduces a repository reference to its owner and name.
// It accepts bare "owner/name", a full github.com web URL, or a
// .git-suffixed clone URL, and is idempotent: normalizing an already
// canonical reference yields the same result.
func NormalizeRepo(input string) (Repo, error) {
	clean := strings.TrimSpace(input)
	clean = strings.TrimPrefix(clean, "https://github.com/")
	clean = strings.TrimPrefix(clean, "http://github.com/")
	clean = strings.TrimSuffix(clean, ".git")
	clean = strings.Trim(clean, "/")
	clean = strings.TrimSpace(clean)

	parts := strings.Split(clean, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepo, input)
	}

	return Repo{Owner: parts[0], Name: parts[1]}, nil
}
