// Package gdrive is a store backend that writes into Google Drive. Projects
// are top level folders, folders are Drive folders and files are Drive files.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"synmigrate/internal/logger"
	"synmigrate/internal/store"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	rootID         = "root"
	fileFields     = "id,name,mimeType,md5Checksum,parents"
)

type Store struct {
	svc *drive.Service
}

var _ store.ProjectStore = (*Store)(nil)

func New(svc *drive.Service) *Store {
	return &Store{svc: svc}
}

// Open builds the Drive service from the OAuth files in dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	svc, err := NewService(ctx, dir)
	if err != nil {
		return nil, &store.AuthenticationError{Err: err}
	}
	return New(svc), nil
}

func escapeName(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return strings.ReplaceAll(name, "'", `\'`)
}

func mapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := errors.AsType[*googleapi.Error](err); ok {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", operation, store.ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", operation, store.ErrAccessDenied, err)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func toEntity(f *drive.File, kindForFolder store.EntityKind) store.Entity {
	e := store.Entity{ID: f.Id, Name: f.Name, Kind: store.KindFile, MD5: f.Md5Checksum}
	if len(f.Parents) > 0 {
		e.ParentID = f.Parents[0]
	}
	if f.MimeType == folderMimeType {
		e.Kind = kindForFolder
		e.MD5 = ""
	}
	if e.Kind == store.KindProject {
		e.ParentID = ""
	}
	return e
}

func (s *Store) find(ctx context.Context, parentID, name string) (*drive.File, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", escapeName(name), parentID)

	list, err := s.svc.Files.List().
		Context(ctx).
		Q(q).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Do()
	if err != nil {
		return nil, mapError(err, "find "+name)
	}
	if len(list.Files) == 0 {
		return nil, store.ErrNotFound
	}

	return list.Files[0], nil
}

func (s *Store) FindChild(ctx context.Context, parentID, name string) (store.Entity, error) {
	f, err := s.find(ctx, parentID, name)
	if err != nil {
		return store.Entity{}, err
	}
	return toEntity(f, store.KindFolder), nil
}

func (s *Store) createFolder(ctx context.Context, parentID, name string) (*drive.File, error) {
	// Drive accepts duplicate names, so collisions are checked here.
	if _, err := s.find(ctx, parentID, name); err == nil {
		return nil, store.ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Context(ctx).Fields(fileFields).Do()
	if err != nil {
		return nil, mapError(err, "create folder "+name)
	}

	return created, nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (store.Entity, error) {
	created, err := s.createFolder(ctx, parentID, name)
	if err != nil {
		return store.Entity{}, err
	}
	return toEntity(created, store.KindFolder), nil
}

func (s *Store) UploadFile(ctx context.Context, u store.FileUpload) (store.Entity, error) {
	f, err := os.Open(u.LocalPath)
	if err != nil {
		return store.Entity{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	existingID := u.ExistingID
	if existingID == "" {
		existing, err := s.find(ctx, u.ParentID, u.Name)
		switch {
		case err == nil && existing.MimeType == folderMimeType:
			return store.Entity{}, fmt.Errorf("%s is a folder: %w", u.Name, store.ErrWrongKind)
		case err == nil:
			existingID = existing.Id
		case !errors.Is(err, store.ErrNotFound):
			return store.Entity{}, err
		}
	}

	var out *drive.File
	if existingID != "" {
		out, err = s.svc.Files.Update(existingID, &drive.File{}).Context(ctx).Media(f).Fields(fileFields).Do()
		if err != nil && isNotFound(err) {
			logger.Log.Warn("recorded file is gone, creating a new one", zap.String("id", existingID), zap.String("name", u.Name))
			if _, err := f.Seek(0, 0); err != nil {
				return store.Entity{}, err
			}
			existingID = ""
		} else if err != nil {
			return store.Entity{}, mapError(err, "update "+u.Name)
		}
	}

	if existingID == "" {
		out, err = s.svc.Files.Create(&drive.File{
			Name:    u.Name,
			Parents: []string{u.ParentID},
		}).Context(ctx).Media(f).Fields(fileFields).Do()
		if err != nil {
			return store.Entity{}, mapError(err, "create "+u.Name)
		}
	}

	return toEntity(out, store.KindFolder), nil
}

func isNotFound(err error) bool {
	if apiErr, ok := errors.AsType[*googleapi.Error](err); ok {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

// FindProject looks up a top level folder by name, then by file id.
func (s *Store) FindProject(ctx context.Context, nameOrID string) (store.Entity, error) {
	f, err := s.find(ctx, rootID, nameOrID)
	if errors.Is(err, store.ErrNotFound) {
		f, err = s.svc.Files.Get(nameOrID).Context(ctx).Fields(fileFields).Do()
		err = mapError(err, "get "+nameOrID)
	}
	if err != nil {
		return store.Entity{}, err
	}

	if f.MimeType != folderMimeType {
		return store.Entity{}, fmt.Errorf("%s is not a folder: %w", nameOrID, store.ErrWrongKind)
	}
	return toEntity(f, store.KindProject), nil
}

func (s *Store) CreateProject(ctx context.Context, name string) (store.Entity, error) {
	created, err := s.createFolder(ctx, rootID, name)
	if err != nil {
		return store.Entity{}, err
	}

	logger.Log.Info("project folder created", zap.String("id", created.Id), zap.String("name", name))
	return toEntity(created, store.KindProject), nil
}

// Login checks that the stored token is accepted by Drive. Credentials are
// unused; the OAuth token comes from 'auth gdrive'.
func (s *Store) Login(ctx context.Context, _ store.Credentials) error {
	about, err := s.svc.About.Get().Context(ctx).Fields("user").Do()
	if err != nil {
		return &store.AuthenticationError{Err: err}
	}

	if about.User != nil {
		logger.Log.Info("logged in to google drive", zap.String("user", about.User.EmailAddress))
	}
	return nil
}

func (s *Store) GrantAdmin(context.Context, string, string) error {
	return store.ErrUnsupported
}

func (s *Store) SetStorageLocation(context.Context, string, string) error {
	return store.ErrUnsupported
}

func (s *Store) CheckWriteAccess(ctx context.Context, projectID string) error {
	f, err := s.svc.Files.Get(projectID).Context(ctx).Fields("id, capabilities(canAddChildren, canEdit)").Do()
	if err != nil {
		return mapError(err, "get "+projectID)
	}

	if f.Capabilities == nil || !f.Capabilities.CanAddChildren || !f.Capabilities.CanEdit {
		return fmt.Errorf("folder %s is not writable: %w", projectID, store.ErrAccessDenied)
	}
	return nil
}

func (s *Store) CheckTeam(context.Context, string) error {
	return store.ErrUnsupported
}

func (s *Store) CheckStorageLocation(context.Context, string) error {
	return store.ErrUnsupported
}
