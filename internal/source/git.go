package source

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/AntelopeJS/antelopejs-sub000/internal/cache"
	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
	"github.com/AntelopeJS/antelopejs-sub000/pkg/logging"
)

// GitDownloader clones (or pulls, if previously cloned) a module's
// remote into the cache under a stable folder name derived from the
// remote URL, then optionally checks out a branch or commit.
type GitDownloader struct{}

func (d *GitDownloader) Fetch(projectRoot string, c *cache.Cache, id model.ModuleID, src model.ModuleSource) ([]*model.ModuleManifest, error) {
	folder, err := c.GetFolder(model.ModuleID(stableGitFolderName(src.Remote)), false)
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpen(folder)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		logging.Info("SourceRegistry", "cloning %s for module %s", src.Remote, id)
		repo, err = git.PlainClone(folder, false, &git.CloneOptions{URL: src.Remote})
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", src.Remote, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening git cache for %s: %w", id, err)
	} else {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("worktree for %s: %w", id, err)
		}
		if err := wt.Pull(&git.PullOptions{}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			logging.Warn("SourceRegistry", "pull failed for %s, using existing checkout: %v", id, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree for %s: %w", id, err)
	}

	switch {
	case src.Commit != "":
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(src.Commit)}); err != nil {
			return nil, fmt.Errorf("checking out commit %s for %s: %w", src.Commit, id, err)
		}
	case src.Branch != "":
		if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(src.Branch)}); err != nil {
			return nil, fmt.Errorf("checking out branch %s for %s: %w", src.Branch, id, err)
		}
	}

	m, err := readManifestFile(folder, id, src)
	if err != nil {
		return nil, err
	}
	return []*model.ModuleManifest{m}, nil
}

func stableGitFolderName(remote string) string {
	sum := sha256.Sum256([]byte(remote))
	return "git-" + hex.EncodeToString(sum[:])[:16]
}
