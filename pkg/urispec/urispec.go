// Package urispec resolves the targets given to linthost on the command line.
// A target is a local path or a git repository that is cloned on first use.
package urispec

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Kind string

const (
	KindPath Kind = "path"
	KindGit  Kind = "git"
)

// Spec is a parsed target.
type Spec struct {
	Raw  string // original specification
	Kind Kind
	Path string // local path or remote URL
	Ref  string // branch for git targets, empty for the default branch
}

// Parse converts a target into a Spec. It supports plain filesystem paths,
// HTTPS git URLs ending in .git and the "github:owner/repo" shorthand. Git
// targets may pin a branch with a "#branch" suffix.
func Parse(s string) Spec {
	remote, ref, _ := strings.Cut(s, "#")
	if strings.HasPrefix(remote, "github:") {
		repo := strings.TrimPrefix(remote, "github:")
		return Spec{Raw: s, Kind: KindGit, Path: fmt.Sprintf("https://github.com/%s.git", repo), Ref: ref}
	}
	if (strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://")) && strings.HasSuffix(remote, ".git") {
		return Spec{Raw: s, Kind: KindGit, Path: remote, Ref: ref}
	}
	return Spec{Raw: s, Kind: KindPath, Path: s}
}

func (s Spec) IsRemote() bool { return s.Kind == KindGit }

// CacheDir is where remote targets are cloned.
func CacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "linthost")
}

// checkoutDir is stable per remote and branch so repeated runs reuse the
// clone.
func (s Spec) checkoutDir() string {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(s.Path+"#"+s.Ref)))
	return filepath.Join(CacheDir(), hash)
}

// LocalPath resolves the spec to a local filesystem path. Git repositories
// are shallow cloned into CacheDir on first use; progress, if not nil,
// receives the clone output.
func (s Spec) LocalPath(ctx context.Context, progress io.Writer) (string, error) {
	switch s.Kind {
	case KindPath:
		if s.Path == "" {
			return "", fmt.Errorf("empty path")
		}
		return filepath.Abs(s.Path)
	case KindGit:
		repoDir := s.checkoutDir()
		if _, err := os.Stat(repoDir); err == nil {
			return repoDir, nil
		}
		if err := os.MkdirAll(filepath.Dir(repoDir), 0o755); err != nil {
			return "", err
		}
		opts := &git.CloneOptions{URL: s.Path, Depth: 1, Progress: progress}
		if s.Ref != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(s.Ref)
			opts.SingleBranch = true
		}
		if _, err := git.PlainCloneContext(ctx, repoDir, false, opts); err != nil {
			_ = os.RemoveAll(repoDir)
			return "", fmt.Errorf("cloning %s: %w", s.Path, err)
		}
		return repoDir, nil
	default:
		return "", fmt.Errorf("unknown spec kind %s", s.Kind)
	}
}
