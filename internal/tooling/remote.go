package tooling

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
)

// RemoteHead resolves heads with an in-memory ls-remote.
type RemoteHead struct{}

// Head implements HeadResolver.
func (RemoteHead) Head(ctx context.Context, url string) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", foundation.WrapError(err, foundation.CategoryGit, "failed to list remote references").
			Retryable().
			WithContext("repository", url).
			Build()
	}
	return headOf(refs, url)
}

func headOf(refs []*plumbing.Reference, url string) (string, error) {
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, r := range refs {
		byName[r.Name()] = r
	}
	ref, ok := byName[plumbing.HEAD]
	// follow HEAD -> refs/heads/<default>
	for i := 0; ok && ref.Type() == plumbing.SymbolicReference && i < 5; i++ {
		ref, ok = byName[ref.Target()]
	}
	if !ok || ref.Type() != plumbing.HashReference {
		return "", foundation.GitError("remote has no resolvable HEAD").
			WithContext("repository", url).
			Build()
	}
	return ref.Hash().String(), nil
}
