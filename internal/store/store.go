// Package store defines the remote entity model the migration writes into and
// the narrow contract every backend implements.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("store: entity not found")
	ErrAlreadyExists = errors.New("store: entity already exists")
	ErrInvalidName   = errors.New("store: invalid entity name")
	ErrAccessDenied  = errors.New("store: access denied")
	ErrWrongKind     = errors.New("store: entity has unexpected type")
	ErrUnsupported   = errors.New("store: operation not supported by backend")
)

type EntityKind uint8

const (
	KindProject EntityKind = iota + 1
	KindFolder
	KindFile
)

func (k EntityKind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// IsContainer reports whether entities of this kind can hold children.
func (k EntityKind) IsContainer() bool {
	return k == KindProject || k == KindFolder
}

// Entity is a reference to a remote entity. The store owns it; callers only
// keep read-through copies for the duration of a run.
type Entity struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	ParentID string     `json:"parent_id,omitempty"`
	Kind     EntityKind `json:"kind"`
	// MD5 is the content digest reported for files, empty when unknown.
	MD5 string `json:"md5,omitempty"`
}

type FileUpload struct {
	ParentID  string
	Name      string
	LocalPath string
	// ExistingID is the remote file last written for this path, if known.
	ExistingID string
	MD5        string
	Size       int64
}

// Store is everything the synchronization core needs from a backend.
type Store interface {
	FindChild(ctx context.Context, parentID, name string) (Entity, error)
	CreateFolder(ctx context.Context, parentID, name string) (Entity, error)
	UploadFile(ctx context.Context, f FileUpload) (Entity, error)
}

type Credentials struct {
	Username  string
	Password  string
	AuthToken string
}

// ProjectStore adds the provisioning and session operations used around the
// core: login, project lookup and creation, and project level settings.
type ProjectStore interface {
	Store
	Login(ctx context.Context, creds Credentials) error
	FindProject(ctx context.Context, nameOrID string) (Entity, error)
	CreateProject(ctx context.Context, name string) (Entity, error)
	GrantAdmin(ctx context.Context, projectID, teamID string) error
	SetStorageLocation(ctx context.Context, projectID, locationID string) error
	// CheckWriteAccess fails with ErrAccessDenied when the logged in user can
	// not add children to the project and edit it.
	CheckWriteAccess(ctx context.Context, projectID string) error
	// CheckTeam and CheckStorageLocation confirm that provisioning ids exist.
	// Backends without the concept return ErrUnsupported.
	CheckTeam(ctx context.Context, teamID string) error
	CheckStorageLocation(ctx context.Context, locationID string) error
}

type AuthenticationError struct {
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.User == "" {
		return fmt.Sprintf("store login failed: %v", e.Err)
	}

	return fmt.Sprintf("store login failed for %s: %v", e.User, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

const validNameChars = "-_.() abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ValidateName rejects names the store would refuse: only letters, digits,
// spaces and -_.() are allowed.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	var bad []rune
	for _, r := range name {
		if !strings.ContainsRune(validNameChars, r) && !strings.ContainsRune(string(bad), r) {
			bad = append(bad, r)
		}
	}

	if len(bad) > 0 {
		return fmt.Errorf("%w: %q contains invalid characters %q", ErrInvalidName, name, string(bad))
	}

	return nil
}
