package types

import "time"

// Directory is a tracked project root.
type Directory struct {
	ID         string     `json:"id"`
	Scope      Scope      `json:"scope"`
	Path       string     `json:"path"`
	CreatedAt  time.Time  `json:"createdAt"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// Archived reports whether the directory has been archived.
func (d *Directory) Archived() bool { return d != nil && d.ArchivedAt != nil }

// DirectoryFilter narrows listDirectories results.
type DirectoryFilter struct {
	Scope           Scope
	IncludeArchived bool
}

// Repository is a tracked repo, with a normalized remote URL stable across
// updates.
type Repository struct {
	ID            string            `json:"id"`
	Scope         Scope             `json:"scope"`
	Name          string            `json:"name"`
	RemoteURL     string            `json:"remoteUrl"`
	DefaultBranch string            `json:"defaultBranch"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ArchivedAt    *time.Time        `json:"archivedAt,omitempty"`
}

// Archived reports whether the repository has been archived.
func (r *Repository) Archived() bool { return r != nil && r.ArchivedAt != nil }

// RepositoryPatch carries the mutable subset of a Repository for
// updateRepository; nil fields are left unchanged.
type RepositoryPatch struct {
	Name          *string
	RemoteURL     *string
	DefaultBranch *string
	Metadata      map[string]string
}

// RepositoryFilter narrows listRepositories results.
type RepositoryFilter struct {
	Scope           Scope
	IncludeArchived bool
}

// GitStatusSnapshot is an ephemeral, non-durable per-directory cache of the
// last observed git status.
type GitStatusSnapshot struct {
	DirectoryID          string    `json:"directoryId"`
	Branch               string    `json:"branch"`
	ChangedFiles         int       `json:"changedFiles"`
	Additions            int       `json:"additions"`
	Deletions            int       `json:"deletions"`
	RepositorySnapshot   string    `json:"repositorySnapshot"`
	RepositoryID         string    `json:"repositoryId,omitempty"`
	LastRefreshedAtMs    int64     `json:"lastRefreshedAtMs"`
}
