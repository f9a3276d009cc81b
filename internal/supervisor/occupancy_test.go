package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrails/agentrailsd/internal/types"
)

func TestOccupancyCheckerDirectoryOccupiedRequiresAClaimedController(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	plantRuntime(sv, "conv-a")

	occ := sv.OccupancyChecker(context.Background())
	// no controller claimed yet: not occupied
	require.False(t, occ.DirectoryOccupied(""))

	sv.mu.Lock()
	sv.sessions["conv-a"].directoryID = "dir-a"
	sv.mu.Unlock()
	require.False(t, occ.DirectoryOccupied("dir-a"))

	require.NoError(t, sv.Claim("conv-a", "controller-a", "human", "operator-a"))
	require.True(t, occ.DirectoryOccupied("dir-a"))
}

func TestOccupancyCheckerWorkingTreeDirtyReflectsCachedSnapshot(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	occ := sv.OccupancyChecker(context.Background())

	// no snapshot cached yet: never reports dirty
	require.False(t, occ.WorkingTreeDirty("dir-b"))

	sv.RefreshGitStatus(context.Background(), types.Scope{}, "dir-b", t.TempDir())
	// a freshly-initialized empty temp dir has no changed files
	require.False(t, occ.WorkingTreeDirty("dir-b"))

	sv.gitCache.set(types.GitStatusSnapshot{DirectoryID: "dir-b", ChangedFiles: 3})
	require.True(t, occ.WorkingTreeDirty("dir-b"))
}

func TestOccupancyCheckerDirectoryTrackedReflectsArchiveState(t *testing.T) {
	sv, st := newTestSupervisor(t)
	ctx := context.Background()
	scope := types.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

	dir, err := st.UpsertDirectory(ctx, scope, "/repo/tracked")
	require.NoError(t, err)

	occ := sv.OccupancyChecker(ctx)
	require.True(t, occ.DirectoryTracked(dir.ID))

	require.NoError(t, st.ArchiveDirectory(ctx, scope, dir.ID))
	require.False(t, occ.DirectoryTracked(dir.ID))
}

func TestOccupancyCheckerDirectoryTrackedUnknownIDIsFalse(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	occ := sv.OccupancyChecker(context.Background())
	require.False(t, occ.DirectoryTracked("does-not-exist"))
}
