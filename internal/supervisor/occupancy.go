package supervisor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// gitStatusCache is the ephemeral, non-durable per-directory
// GitStatusSnapshot cache (spec.md section 3: "Ephemeral; not
// durable"). It lives on the Supervisor because task pull's occupancy
// checks are the only consumer specified here; a richer UI-facing
// project.status command reads the same cache.
type gitStatusCache struct {
	mu   sync.Mutex
	byID map[string]types.GitStatusSnapshot
}

func newGitStatusCache() *gitStatusCache {
	return &gitStatusCache{byID: make(map[string]types.GitStatusSnapshot)}
}

func (c *gitStatusCache) get(directoryID string) (types.GitStatusSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.byID[directoryID]
	return snap, ok
}

func (c *gitStatusCache) set(snap types.GitStatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[snap.DirectoryID] = snap
}

// RefreshGitStatus shells out to `git status --porcelain` for path and
// caches the resulting snapshot for directoryID. Failures (not a git
// repo, git not on PATH) are swallowed into a clean snapshot: a
// directory with no discoverable git status never blocks a task pull
// on the WorkingTreeDirty gate. scope narrows the RemoteURL match used
// to populate RepositoryID to repositories tracked in the same scope.
func (sv *Supervisor) RefreshGitStatus(ctx context.Context, scope types.Scope, directoryID, path string) types.GitStatusSnapshot {
	snap := types.GitStatusSnapshot{DirectoryID: directoryID, LastRefreshedAtMs: time.Now().UnixMilli()}

	if branch, err := runGit(ctx, path, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		snap.Branch = strings.TrimSpace(branch)
	}
	if out, err := runGit(ctx, path, "status", "--porcelain"); err == nil {
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				snap.ChangedFiles++
			}
		}
	}
	if out, err := runGit(ctx, path, "diff", "--numstat"); err == nil {
		add, del := parseNumstat(out)
		snap.Additions, snap.Deletions = add, del
	}
	if remote, err := runGit(ctx, path, "remote", "get-url", "origin"); err == nil {
		if repoID, ok := sv.matchRepositoryID(ctx, scope, strings.TrimSpace(remote)); ok {
			snap.RepositoryID = repoID
		}
	}

	sv.gitCache.set(snap)
	if sv.mirror != nil {
		if err := sv.mirror.SetGitStatus(ctx, snap); err != nil {
			sv.log.Warn("supervisor: mirror git status write failed", "directoryId", directoryID, "err", err)
		}
	}
	return snap
}

// matchRepositoryID looks up the tracked Repository (if any) within scope
// whose RemoteURL exactly matches remoteURL, used to populate
// GitStatusSnapshot.RepositoryID from the working tree's own git remote
// rather than requiring callers to already know it.
func (sv *Supervisor) matchRepositoryID(ctx context.Context, scope types.Scope, remoteURL string) (string, bool) {
	if remoteURL == "" {
		return "", false
	}
	repos, err := sv.store.ListRepositories(ctx, types.RepositoryFilter{Scope: scope})
	if err != nil {
		return "", false
	}
	for _, r := range repos {
		if r.RemoteURL == remoteURL {
			return r.ID, true
		}
	}
	return "", false
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

func parseNumstat(out string) (additions, deletions int) {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			additions += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			deletions += n
		}
	}
	return
}

// GitStatus returns the last cached GitStatusSnapshot for directoryID
// without shelling out, for read-only callers like project.status. On a
// local cache miss it consults the cross-process SessionMirror (if one
// is attached) before reporting not-found — this is how a read-only
// status sidecar process, which never calls RefreshGitStatus itself,
// observes the snapshot another daemon process refreshed.
func (sv *Supervisor) GitStatus(ctx context.Context, directoryID string) (types.GitStatusSnapshot, bool) {
	if snap, ok := sv.gitCache.get(directoryID); ok {
		return snap, true
	}
	sv.mu.Lock()
	mirror := sv.mirror
	sv.mu.Unlock()
	if mirror == nil {
		return types.GitStatusSnapshot{}, false
	}
	snap, ok, err := mirror.GitStatus(ctx, directoryID)
	if err != nil {
		sv.log.Warn("supervisor: mirror git status read failed", "directoryId", directoryID, "err", err)
		return types.GitStatusSnapshot{}, false
	}
	if ok {
		sv.gitCache.set(snap)
	}
	return snap, ok
}

// occupancyChecker adapts Supervisor to store.OccupancyChecker without
// exposing supervisor internals to the store package (spec.md section
// 4.B: the Store depends only on the interface to avoid an import
// cycle).
type occupancyChecker struct {
	sv  *Supervisor
	ctx context.Context
}

// OccupancyChecker returns a store.OccupancyChecker bound to ctx, for
// use in a single task.pull call.
func (sv *Supervisor) OccupancyChecker(ctx context.Context) *occupancyChecker {
	return &occupancyChecker{sv: sv, ctx: ctx}
}

func (o *occupancyChecker) DirectoryOccupied(directoryID string) bool {
	o.sv.mu.Lock()
	defer o.sv.mu.Unlock()
	for _, rt := range o.sv.sessions {
		if rt.directoryID == directoryID && rt.controller != nil {
			return true
		}
	}
	return false
}

func (o *occupancyChecker) WorkingTreeDirty(directoryID string) bool {
	snap, ok := o.sv.gitCache.get(directoryID)
	if !ok {
		return false
	}
	return snap.ChangedFiles > 0
}

func (o *occupancyChecker) DirectoryTracked(directoryID string) bool {
	d, err := o.sv.store.GetDirectory(o.ctx, directoryID)
	if err != nil {
		return false
	}
	return !d.Archived()
}

func (o *occupancyChecker) CurrentBranch(directoryID string) (string, bool) {
	snap, ok := o.sv.gitCache.get(directoryID)
	if !ok || snap.Branch == "" {
		return "", false
	}
	return snap.Branch, true
}

func (o *occupancyChecker) DirectoryRepository(directoryID string) (string, bool) {
	snap, ok := o.sv.gitCache.get(directoryID)
	if !ok || snap.RepositoryID == "" {
		return "", false
	}
	return snap.RepositoryID, true
}
