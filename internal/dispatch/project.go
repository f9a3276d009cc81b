package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentrails/agentrailsd/internal/types"
)

// project.* commands treat a project as the directory it is rooted at
// (spec.md section 3: project settings and status are keyed by
// directoryId, there is no separate project entity).

func (d *Dispatcher) projectSettingsGet(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req projectSettingsGetRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if _, err := d.Store.GetDirectory(ctx, req.DirectoryID); err != nil {
		return nil, types.ErrProjectNotFound
	}
	settings, err := d.Store.GetProjectSettings(ctx, req.DirectoryID)
	if err != nil {
		return nil, translate("project", err)
	}
	return marshalResult(settings)
}

func (d *Dispatcher) projectSettingsUpdate(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req projectSettingsUpdateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if _, err := d.Store.GetDirectory(ctx, req.Settings.DirectoryID); err != nil {
		return nil, types.ErrProjectNotFound
	}
	if err := d.Store.SetProjectSettings(ctx, req.Settings); err != nil {
		return nil, translate("project", err)
	}
	return marshalResult(req.Settings)
}

type projectStatusResponse struct {
	Directory  types.Directory          `json:"directory"`
	Settings   types.ProjectSettings    `json:"settings"`
	GitStatus  types.GitStatusSnapshot  `json:"gitStatus"`
	Occupied   bool                     `json:"occupied"`
}

func (d *Dispatcher) projectStatus(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var req projectStatusRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	dir, err := d.Store.GetDirectory(ctx, req.DirectoryID)
	if err != nil {
		return nil, types.ErrProjectNotFound
	}
	settings, err := d.Store.GetProjectSettings(ctx, req.DirectoryID)
	if err != nil {
		return nil, translate("project", err)
	}
	snap, _ := d.Supervisor.GitStatus(ctx, req.DirectoryID)
	occ := d.Supervisor.OccupancyChecker(ctx)
	return marshalResult(projectStatusResponse{
		Directory: dir, Settings: settings, GitStatus: snap, Occupied: occ.DirectoryOccupied(req.DirectoryID),
	})
}
