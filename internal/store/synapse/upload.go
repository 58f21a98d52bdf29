package synapse

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"synmigrate/internal/logger"
	"synmigrate/internal/store"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

type multipartRequest struct {
	ConcreteType      string `json:"concreteType"`
	ContentMD5Hex     string `json:"contentMD5Hex"`
	FileName          string `json:"fileName"`
	FileSizeBytes     int64  `json:"fileSizeBytes"`
	PartSizeBytes     int64  `json:"partSizeBytes"`
	ContentType       string `json:"contentType"`
	StorageLocationID *int64 `json:"storageLocationId,omitempty"`
}

type multipartStatus struct {
	UploadID           string `json:"uploadId"`
	State              string `json:"state"`
	PartsState         string `json:"partsState"`
	ResultFileHandleID string `json:"resultFileHandleId"`
}

type presignedBatchRequest struct {
	UploadID    string `json:"uploadId"`
	PartNumbers []int  `json:"partNumbers"`
}

type presignedPart struct {
	PartNumber    int               `json:"partNumber"`
	URL           string            `json:"uploadPresignedUrl"`
	SignedHeaders map[string]string `json:"signedHeaders"`
}

type presignedBatchResponse struct {
	Parts []presignedPart `json:"partPresignedUrls"`
}

type addPartResponse struct {
	State        string `json:"addPartState"`
	ErrorMessage string `json:"errorMessage"`
}

type fileHandle struct {
	ID         string `json:"id"`
	ContentMD5 string `json:"contentMd5"`
}

// UploadFile uploads the content with a multipart upload, then creates the
// FileEntity or points the existing one at the new file handle.
func (c *Client) UploadFile(ctx context.Context, f store.FileUpload) (store.Entity, error) {
	handle, err := c.uploadContent(ctx, f)
	if err != nil {
		return store.Entity{}, err
	}

	var e *entity
	if f.ExistingID != "" {
		e, err = c.updateFile(ctx, f.ExistingID, handle.ID)
		if isNotFound(err) {
			logger.Log.Warn("recorded file entity is gone, creating a new one", zap.String("id", f.ExistingID), zap.String("name", f.Name))
			e, err = nil, nil
		}
		if err != nil {
			return store.Entity{}, err
		}
	}

	if e == nil {
		e, err = c.createFile(ctx, f.ParentID, f.Name, handle.ID)
		if err != nil {
			return store.Entity{}, err
		}
	}

	out := e.toStore()
	out.MD5 = handle.ContentMD5
	return out, nil
}

func (c *Client) createFile(ctx context.Context, parentID, name, handleID string) (*entity, error) {
	e, err := c.createEntity(ctx, &entity{
		Name:             name,
		ParentID:         parentID,
		ConcreteType:     typeFile,
		DataFileHandleID: handleID,
	})
	if err == nil || !isAlreadyExists(err) {
		return e, err
	}

	// a file of that name exists but was not recorded locally
	id, err := c.lookupChild(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	return c.updateFile(ctx, id, handleID)
}

func (c *Client) updateFile(ctx context.Context, id, handleID string) (*entity, error) {
	var raw map[string]any
	resp, err := c.r(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&raw).
		Get(c.opts.RepoEndpoint + "/entity/{id}")
	if err := checkResponse(resp, err, "get entity "+id); err != nil {
		return nil, err
	}

	if raw["concreteType"] != typeFile {
		return nil, fmt.Errorf("%s is a %v: %w", id, raw["concreteType"], store.ErrWrongKind)
	}

	if raw["dataFileHandleId"] != handleID {
		raw["dataFileHandleId"] = handleID

		var updated map[string]any
		resp, err = c.r(ctx).
			SetPathParam("id", id).
			SetBody(raw).
			SetSuccessResult(&updated).
			Put(c.opts.RepoEndpoint + "/entity/{id}")
		if err := checkResponse(resp, err, "update entity "+id); err != nil {
			return nil, err
		}
		raw = updated
	}

	e := &entity{ConcreteType: typeFile, DataFileHandleID: handleID}
	e.ID, _ = raw["id"].(string)
	e.Name, _ = raw["name"].(string)
	e.ParentID, _ = raw["parentId"].(string)
	e.Etag, _ = raw["etag"].(string)
	return e, nil
}

func (c *Client) uploadContent(ctx context.Context, f store.FileUpload) (*fileHandle, error) {
	file, err := os.Open(f.LocalPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	sum := f.MD5
	if sum == "" {
		h := md5.New()
		if _, err := io.Copy(h, file); err != nil {
			return nil, err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(f.LocalPath); err == nil {
		contentType = mt.String()
	}

	partSize := c.opts.PartSize
	for (info.Size()+partSize-1)/partSize > maxParts {
		partSize *= 2
	}

	start := &multipartRequest{
		ConcreteType:  typeUploadReq,
		ContentMD5Hex: sum,
		FileName:      f.Name,
		FileSizeBytes: info.Size(),
		PartSizeBytes: partSize,
		ContentType:   contentType,
	}
	if c.opts.StorageLocationID != "" {
		if loc, err := strconv.ParseInt(c.opts.StorageLocationID, 10, 64); err == nil {
			start.StorageLocationID = &loc
		}
	}

	var status multipartStatus
	resp, err := c.r(ctx).
		SetBody(start).
		SetSuccessResult(&status).
		Post(c.opts.FileEndpoint + "/file/multipart")
	if err := checkResponse(resp, err, "start upload "+f.Name); err != nil {
		return nil, err
	}

	if status.State != "COMPLETED" {
		var missing []int
		for i, s := range status.PartsState {
			if s != '1' {
				missing = append(missing, i+1)
			}
		}
		if len(status.PartsState) == 0 {
			// an empty state string means no part is uploaded yet
			for n := 1; int64(n-1)*partSize < max(info.Size(), 1); n++ {
				missing = append(missing, n)
			}
		}

		if err := c.uploadParts(ctx, file, info.Size(), partSize, status.UploadID, missing); err != nil {
			return nil, err
		}

		resp, err = c.r(ctx).
			SetPathParam("uploadId", status.UploadID).
			SetSuccessResult(&status).
			Put(c.opts.FileEndpoint + "/file/multipart/{uploadId}/complete")
		if err := checkResponse(resp, err, "complete upload "+f.Name); err != nil {
			return nil, err
		}
		if status.State != "COMPLETED" {
			return nil, fmt.Errorf("upload %s ended in state %s", f.Name, status.State)
		}
	}

	var handle fileHandle
	resp, err = c.r(ctx).
		SetPathParam("id", status.ResultFileHandleID).
		SetSuccessResult(&handle).
		Get(c.opts.FileEndpoint + "/fileHandle/{id}")
	if err := checkResponse(resp, err, "get file handle"); err != nil {
		return nil, err
	}

	logger.Log.Debug("content uploaded",
		zap.String("name", f.Name),
		zap.String("file_handle", handle.ID),
		zap.Int64("size", info.Size()))
	return &handle, nil
}

func (c *Client) uploadParts(ctx context.Context, file *os.File, size, partSize int64, uploadID string, parts []int) error {
	if len(parts) == 0 {
		return nil
	}

	var batch presignedBatchResponse
	resp, err := c.r(ctx).
		SetPathParam("uploadId", uploadID).
		SetBody(&presignedBatchRequest{UploadID: uploadID, PartNumbers: parts}).
		SetSuccessResult(&batch).
		Post(c.opts.FileEndpoint + "/file/multipart/{uploadId}/presigned/url/batch")
	if err := checkResponse(resp, err, "presigned urls"); err != nil {
		return err
	}

	for _, part := range batch.Parts {
		offset := int64(part.PartNumber-1) * partSize
		length := min(partSize, size-offset)
		buf := make([]byte, max(length, 0))
		if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
			return fmt.Errorf("read part %d: %w", part.PartNumber, err)
		}

		sum := md5.Sum(buf)
		partMD5 := hex.EncodeToString(sum[:])

		put, err := c.parts.R().
			SetContext(ctx).
			SetHeaders(part.SignedHeaders).
			SetBodyBytes(buf).
			Put(part.URL)
		if err != nil {
			return fmt.Errorf("upload part %d: %w", part.PartNumber, err)
		}
		if put.StatusCode != http.StatusOK && put.StatusCode != http.StatusCreated && put.StatusCode != http.StatusNoContent {
			return fmt.Errorf("upload part %d failed with status %d", part.PartNumber, put.StatusCode)
		}

		var added addPartResponse
		resp, err := c.r(ctx).
			SetPathParams(map[string]string{"uploadId": uploadID, "part": strconv.Itoa(part.PartNumber)}).
			SetQueryParam("partMD5Hex", partMD5).
			SetSuccessResult(&added).
			Put(c.opts.FileEndpoint + "/file/multipart/{uploadId}/add/{part}")
		if err := checkResponse(resp, err, "add part"); err != nil {
			return err
		}
		if added.State != "ADD_SUCCESS" {
			return fmt.Errorf("add part %d: %s", part.PartNumber, added.ErrorMessage)
		}
	}

	return nil
}
