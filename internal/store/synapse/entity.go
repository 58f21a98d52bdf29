package synapse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"synmigrate/internal/logger"
	"synmigrate/internal/store"

	"go.uber.org/zap"
)

type entity struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	ParentID         string `json:"parentId,omitempty"`
	ConcreteType     string `json:"concreteType"`
	Etag             string `json:"etag,omitempty"`
	DataFileHandleID string `json:"dataFileHandleId,omitempty"`
}

func (e *entity) toStore() store.Entity {
	out := store.Entity{ID: e.ID, Name: e.Name, ParentID: e.ParentID}
	switch e.ConcreteType {
	case typeProject:
		out.Kind = store.KindProject
		out.ParentID = ""
	case typeFolder:
		out.Kind = store.KindFolder
	case typeFile:
		out.Kind = store.KindFile
	}
	return out
}

type childRequest struct {
	ParentID   string `json:"parentId,omitempty"`
	EntityName string `json:"entityName"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (c *Client) getEntity(ctx context.Context, id string) (*entity, error) {
	var out entity
	resp, err := c.r(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&out).
		Get(c.opts.RepoEndpoint + "/entity/{id}")
	if err := checkResponse(resp, err, "get entity "+id); err != nil {
		return nil, err
	}
	return &out, nil
}

// lookupChild finds the id of the entity called name under parentID. An empty
// parentID searches projects.
func (c *Client) lookupChild(ctx context.Context, parentID, name string) (string, error) {
	var out idResponse
	resp, err := c.r(ctx).
		SetBody(&childRequest{ParentID: parentID, EntityName: name}).
		SetSuccessResult(&out).
		Post(c.opts.RepoEndpoint + "/entity/child")
	if err := checkResponse(resp, err, "find child "+name); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", store.ErrNotFound
	}
	return out.ID, nil
}

func (c *Client) FindChild(ctx context.Context, parentID, name string) (store.Entity, error) {
	id, err := c.lookupChild(ctx, parentID, name)
	if err != nil {
		return store.Entity{}, err
	}

	e, err := c.getEntity(ctx, id)
	if err != nil {
		return store.Entity{}, err
	}
	return e.toStore(), nil
}

func (c *Client) createEntity(ctx context.Context, in *entity) (*entity, error) {
	var out entity
	resp, err := c.r(ctx).
		SetBody(in).
		SetSuccessResult(&out).
		Post(c.opts.RepoEndpoint + "/entity")
	if err := checkResponse(resp, err, "create entity "+in.Name); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (store.Entity, error) {
	out, err := c.createEntity(ctx, &entity{Name: name, ParentID: parentID, ConcreteType: typeFolder})
	if err != nil {
		return store.Entity{}, err
	}

	logger.Log.Debug("folder created", zap.String("id", out.ID), zap.String("name", name), zap.String("parent", parentID))
	return out.toStore(), nil
}

func isSynapseID(s string) bool {
	if len(s) < 4 || !strings.EqualFold(s[:3], "syn") {
		return false
	}
	for _, r := range s[3:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FindProject accepts a synapse id (syn123) or a project name.
func (c *Client) FindProject(ctx context.Context, nameOrID string) (store.Entity, error) {
	id := nameOrID
	if !isSynapseID(nameOrID) {
		var err error
		if id, err = c.lookupChild(ctx, "", nameOrID); err != nil {
			return store.Entity{}, err
		}
	}

	e, err := c.getEntity(ctx, strings.ToLower(id))
	if err != nil {
		return store.Entity{}, err
	}
	if e.ConcreteType != typeProject {
		return store.Entity{}, fmt.Errorf("%s is a %s: %w", id, e.ConcreteType, store.ErrWrongKind)
	}
	return e.toStore(), nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (store.Entity, error) {
	out, err := c.createEntity(ctx, &entity{Name: name, ConcreteType: typeProject})
	if err != nil {
		return store.Entity{}, err
	}

	logger.Log.Info("project created", zap.String("id", out.ID), zap.String("name", name))
	return out.toStore(), nil
}

type resourceAccess struct {
	PrincipalID int64    `json:"principalId"`
	AccessType  []string `json:"accessType"`
}

type accessControlList struct {
	ID             string           `json:"id"`
	Etag           string           `json:"etag,omitempty"`
	ResourceAccess []resourceAccess `json:"resourceAccess"`
}

// GrantAdmin adds AdminAccess for teamID to the project's ACL.
func (c *Client) GrantAdmin(ctx context.Context, projectID, teamID string) error {
	var principal int64
	if _, err := fmt.Sscan(teamID, &principal); err != nil {
		return fmt.Errorf("invalid team id %q: %w", teamID, err)
	}

	var acl accessControlList
	resp, err := c.r(ctx).
		SetPathParam("id", projectID).
		SetSuccessResult(&acl).
		Get(c.opts.RepoEndpoint + "/entity/{id}/acl")
	if err := checkResponse(resp, err, "get acl"); err != nil {
		return err
	}

	found := false
	for i := range acl.ResourceAccess {
		if acl.ResourceAccess[i].PrincipalID == principal {
			acl.ResourceAccess[i].AccessType = AdminAccess
			found = true
		}
	}
	if !found {
		acl.ResourceAccess = append(acl.ResourceAccess, resourceAccess{PrincipalID: principal, AccessType: AdminAccess})
	}

	resp, err = c.r(ctx).
		SetPathParam("id", projectID).
		SetBody(&acl).
		Put(c.opts.RepoEndpoint + "/entity/{id}/acl")
	if err := checkResponse(resp, err, "update acl"); err != nil {
		return err
	}

	logger.Log.Info("granted admin access", zap.String("project", projectID), zap.String("team", teamID))
	return nil
}

type projectSetting struct {
	ConcreteType string  `json:"concreteType"`
	SettingsType string  `json:"settingsType"`
	ProjectID    string  `json:"projectId"`
	Locations    []int64 `json:"locations"`
}

func (c *Client) SetStorageLocation(ctx context.Context, projectID, locationID string) error {
	var location int64
	if _, err := fmt.Sscan(locationID, &location); err != nil {
		return fmt.Errorf("invalid storage location id %q: %w", locationID, err)
	}

	resp, err := c.r(ctx).
		SetBody(&projectSetting{
			ConcreteType: typeUploadSet,
			SettingsType: "upload",
			ProjectID:    projectID,
			Locations:    []int64{location},
		}).
		Post(c.opts.RepoEndpoint + "/projectSettings")
	if err := checkResponse(resp, err, "set storage location"); err != nil {
		return err
	}

	logger.Log.Info("storage location set", zap.String("project", projectID), zap.String("location", locationID))
	return nil
}

type userEntityPermissions struct {
	CanAddChild bool `json:"canAddChild"`
	CanEdit     bool `json:"canEdit"`
}

// CheckWriteAccess asks Synapse for the caller's effective permissions, which
// include those granted through teams.
func (c *Client) CheckWriteAccess(ctx context.Context, projectID string) error {
	var perms userEntityPermissions
	resp, err := c.r(ctx).
		SetPathParam("id", projectID).
		SetSuccessResult(&perms).
		Get(c.opts.RepoEndpoint + "/entity/{id}/permissions")
	if err := checkResponse(resp, err, "get permissions of "+projectID); err != nil {
		return err
	}

	if !perms.CanAddChild || !perms.CanEdit {
		return fmt.Errorf("user %s needs CREATE and UPDATE on %s: %w", c.UserID(), projectID, store.ErrAccessDenied)
	}
	return nil
}

type team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) CheckTeam(ctx context.Context, teamID string) error {
	var out team
	resp, err := c.r(ctx).
		SetPathParam("id", teamID).
		SetSuccessResult(&out).
		Get(c.opts.RepoEndpoint + "/team/{id}")
	if err := checkResponse(resp, err, "get team "+teamID); err != nil {
		return err
	}

	logger.Log.Info("admin team found", zap.String("id", out.ID), zap.String("name", out.Name))
	return nil
}

type storageLocation struct {
	StorageLocationID int64  `json:"storageLocationId"`
	ConcreteType      string `json:"concreteType"`
}

// CheckStorageLocation only finds locations owned by the caller.
func (c *Client) CheckStorageLocation(ctx context.Context, locationID string) error {
	var out storageLocation
	resp, err := c.r(ctx).
		SetPathParam("id", locationID).
		SetSuccessResult(&out).
		Get(c.opts.RepoEndpoint + "/storageLocation/{id}")
	if err := checkResponse(resp, err, "get storage location "+locationID); err != nil {
		return err
	}

	logger.Log.Info("storage location found", zap.Int64("id", out.StorageLocationID), zap.String("type", out.ConcreteType))
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, store.ErrAlreadyExists)
}
