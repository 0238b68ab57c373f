// Package gitrepo archives every accepted document version in a per-document
// git repository so past versions stay retrievable by number.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "content.txt"

var (
	ErrNoArchive = errors.New("document has no archive")
	ErrNoVersion = errors.New("version not archived")
	ErrInvalidID = errors.New("document id is not a plain path segment")
)

type Revision struct {
	Hash    string    `json:"hash"`
	Version int64     `json:"version"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitVersion records content as the given document version on main and
// tags the commit v<version>.
func (s *Service) CommitVersion(documentID string, version int64, content, author, message string) (Revision, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), []byte(content), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Revision{}, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(commitMessage(message, version, author), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit version %d: %w", version, err)
	}
	if _, err := repo.CreateTag(versionTag(version), hash, nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return Revision{}, fmt.Errorf("tag version %d: %w", version, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// TagApproval places an annotated approved-v<version> tag on an archived
// version, naming the review that approved it.
func (s *Service) TagApproval(documentID string, version int64, reviewID, approver string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return err
	}
	ref, err := repo.Tag(versionTag(version))
	if err != nil {
		return fmt.Errorf("resolve version %d: %w", version, err)
	}

	_, err = repo.CreateTag("approved-"+versionTag(version), ref.Hash(), &git.CreateTagOptions{
		Tagger:  signature(approver),
		Message: fmt.Sprintf("approved by review %s", reviewID),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create approval tag: %w", err)
	}
	return nil
}

func (s *Service) History(documentID string, limit int) ([]Revision, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the content archived as the given version.
func (s *Service) ContentAt(documentID string, version int64) (string, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return "", err
	}
	ref, err := repo.Tag(versionTag(version))
	if errors.Is(err, git.ErrTagNotFound) {
		return "", fmt.Errorf("%w: %s v%d", ErrNoVersion, documentID, version)
	}
	if err != nil {
		return "", fmt.Errorf("resolve version %d: %w", version, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("read commit for version %d: %w", version, err)
	}
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

// repoPath resolves the repository directory of a document. Ids that would
// resolve outside baseDir, or to baseDir itself, are refused.
func (s *Service) repoPath(documentID string) (string, error) {
	if documentID == "." || strings.ContainsAny(documentID, `/\`) || !filepath.IsLocal(documentID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, documentID)
	}
	return filepath.Join(s.baseDir, documentID), nil
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoArchive, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func versionTag(version int64) string {
	return "v" + strconv.FormatInt(version, 10)
}

func commitMessage(message string, version int64, author string) string {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Save version %d", version)
	}
	return fmt.Sprintf("%s\n\nversion: %d\nactor: %s", message, version, author)
}

func toRevision(commitObj *object.Commit) Revision {
	revision := Revision{
		Hash:   commitObj.Hash.String()[:7],
		Author: commitObj.Author.Name,
		At:     commitObj.Author.When,
	}
	subject, trailers, _ := strings.Cut(commitObj.Message, "\n\n")
	revision.Message = subject
	for _, line := range strings.Split(trailers, "\n") {
		if value, ok := strings.CutPrefix(line, "version: "); ok {
			revision.Version, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return revision
}

func signature(name string) *object.Signature {
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@docflow.local", sanitizeEmail(name)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
