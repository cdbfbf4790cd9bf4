// Package hosting publishes generated applications as public Git
// repositories with static site hosting.
package hosting

import (
	"context"
	"fmt"
	"strings"
)

var ErrHostingNotEnabled = fmt.Errorf("repository hosting requests are not enabled")

// File is a single file to be committed, with its repository path.
type File struct {
	Path    string
	Content []byte
}

type Client interface {
	// EnsureRepository creates the repository when it does not exist yet.
	// Reports whether the repository was created by this call.
	EnsureRepository(ctx context.Context, name, description string) (bool, error)

	// Commit writes the given files to the default branch in a single
	// commit and returns the commit hash. With replace set the commit
	// contains exactly the given files; otherwise existing files are
	// kept and only the given paths are overwritten.
	Commit(ctx context.Context, name, message string, files []File, replace bool) (string, error)

	// EnablePages turns on static site hosting for the repository and
	// returns the public site URL.
	EnablePages(ctx context.Context, name string) (string, error)

	// Documentation returns the repository's README contents, or an empty
	// string when the repository has none.
	Documentation(ctx context.Context, name string) (string, error)

	// RepositoryURL returns the web address the repository will be
	// reachable on, without talking to the hosting service.
	RepositoryURL(name string) string

	// PagesURL returns the web address the published site will be
	// reachable on, without talking to the hosting service.
	PagesURL(name string) string
}

// RepositoryName derives a valid repository name from a task identifier.
func RepositoryName(task string) string {
	builder := strings.Builder{}
	for _, r := range task {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-.")
}
