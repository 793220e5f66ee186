package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// Names inside the user's Drive where the credential vault lives.
const (
	vaultFolderName = "WorkPilot"
	vaultFileName   = "user_data.json"
)

// DriveService handles communication with the Google Drive REST API. Besides
// file listing for workflow context, it hosts the remote credential vault: a
// JSON record in an app folder inside the user's own Drive.
type DriveService struct {
	httpClient *http.Client
	baseURL    string
	uploadURL  string
}

// NewDriveService creates a new DriveService instance
func NewDriveService() *DriveService {
	return &DriveService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://www.googleapis.com/drive/v3",
		uploadURL:  "https://www.googleapis.com/upload/drive/v3",
	}
}

// fileListResponse is the Drive files.list response
type fileListResponse struct {
	Files []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		MimeType     string `json:"mimeType"`
		ModifiedTime string `json:"modifiedTime"`
		WebViewLink  string `json:"webViewLink"`
	} `json:"files"`
}

// ListRecentFiles returns the most recently modified Drive files
func (s *DriveService) ListRecentFiles(ctx context.Context, accessToken string, limit int) ([]models.DriveFile, error) {
	if limit <= 0 {
		limit = 10
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("drive", "files.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("drive", "files.list")

	files, err := WithCircuitBreaker(ctx, BreakerDrive, func() ([]models.DriveFile, error) {
		params := url.Values{}
		params.Set("pageSize", fmt.Sprintf("%d", limit))
		params.Set("orderBy", "modifiedTime desc")
		params.Set("fields", "files(id,name,mimeType,modifiedTime,webViewLink)")

		var list fileListResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.getJSON(ctx, accessToken, "/files?"+params.Encode(), &list)
		})
		if err != nil {
			return nil, err
		}

		out := make([]models.DriveFile, 0, len(list.Files))
		for _, f := range list.Files {
			out = append(out, models.DriveFile{
				ID:           f.ID,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: f.ModifiedTime,
				WebViewLink:  f.WebViewLink,
			})
		}
		return out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("drive", "files.list", "request_failed")
		return nil, models.NewCollaboratorError("drive", err)
	}

	return files, nil
}

// vaultRecord is the wire form of the credential vault file
type vaultRecord struct {
	UserID       string          `json:"user_id"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Expiry       time.Time       `json:"expiry"`
	Scopes       []string        `json:"scopes"`
	Settings     models.Settings `json:"settings"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Fetch reads the credential vault from the user's Drive. Missing folder or
// file maps to models.ErrNotFound; anything else is a collaborator failure
// the caller may treat as a degraded read.
func (s *DriveService) Fetch(ctx context.Context, accessToken, userID string) (*models.UserCredential, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("drive", "vault.fetch")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("drive", "vault.fetch")

	folderID, err := s.findFolder(ctx, accessToken)
	if err != nil {
		return nil, models.NewCollaboratorError("drive", err)
	}
	if folderID == "" {
		return nil, models.ErrNotFound
	}

	fileID, err := s.findVaultFile(ctx, accessToken, folderID)
	if err != nil {
		return nil, models.NewCollaboratorError("drive", err)
	}
	if fileID == "" {
		return nil, models.ErrNotFound
	}

	var rec vaultRecord
	err = WithRetry(ctx, DefaultRetryConfig, func() error {
		return s.getJSON(ctx, accessToken, "/files/"+fileID+"?alt=media", &rec)
	})
	if err != nil {
		return nil, models.NewCollaboratorError("drive", err)
	}

	cred := &models.UserCredential{
		UserID:       userID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.Expiry,
		Scopes:       rec.Scopes,
		Settings:     rec.Settings,
		Origin:       models.OriginRemote,
	}
	return cred, nil
}

// Store writes the credential vault to the user's Drive, creating the app
// folder and vault file on first use.
func (s *DriveService) Store(ctx context.Context, accessToken string, cred *models.UserCredential) error {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("drive", "vault.store")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("drive", "vault.store")

	folderID, err := s.findFolder(ctx, accessToken)
	if err != nil {
		return models.NewCollaboratorError("drive", err)
	}
	if folderID == "" {
		folderID, err = s.createFolder(ctx, accessToken)
		if err != nil {
			return models.NewCollaboratorError("drive", err)
		}
	}

	rec := vaultRecord{
		UserID:       cred.UserID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
		Scopes:       cred.Scopes,
		Settings:     cred.Settings,
		UpdatedAt:    time.Now().UTC(),
	}
	content, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding vault record: %w", err)
	}

	fileID, err := s.findVaultFile(ctx, accessToken, folderID)
	if err != nil {
		return models.NewCollaboratorError("drive", err)
	}

	if fileID != "" {
		err = s.uploadMedia(ctx, accessToken, "PATCH", "/files/"+fileID+"?uploadType=media", content)
	} else {
		err = s.createVaultFile(ctx, accessToken, folderID, content)
	}
	if err != nil {
		metrics.RecordExternalAPIError("drive", "vault.store", "request_failed")
		return models.NewCollaboratorError("drive", err)
	}
	return nil
}

func (s *DriveService) findFolder(ctx context.Context, accessToken string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false", vaultFolderName)
	return s.findFirst(ctx, accessToken, query)
}

func (s *DriveService) findVaultFile(ctx context.Context, accessToken, folderID string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", folderID, vaultFileName)
	return s.findFirst(ctx, accessToken, query)
}

func (s *DriveService) findFirst(ctx context.Context, accessToken, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("fields", "files(id,name)")

	var list fileListResponse
	err := WithRetry(ctx, DefaultRetryConfig, func() error {
		return s.getJSON(ctx, accessToken, "/files?"+params.Encode(), &list)
	})
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].ID, nil
}

func (s *DriveService) createFolder(ctx context.Context, accessToken string) (string, error) {
	body := map[string]any{
		"name":     vaultFolderName,
		"mimeType": "application/vnd.google-apps.folder",
	}
	var created struct {
		ID string `json:"id"`
	}
	err := WithRetry(ctx, DefaultRetryConfig, func() error {
		return s.postJSON(ctx, accessToken, "/files?fields=id", body, &created)
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// createVaultFile uses a multipart upload so metadata (name, parent folder)
// and content land in one request.
func (s *DriveService) createVaultFile(ctx context.Context, accessToken, folderID string, content []byte) error {
	meta, err := json.Marshal(map[string]any{
		"name":    vaultFileName,
		"parents": []string{folderID},
	})
	if err != nil {
		return fmt.Errorf("encoding file metadata: %w", err)
	}

	const boundary = "workpilot-vault-upload"
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: application/json; charset=UTF-8\r\n\r\n%s\r\n", boundary, meta)
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: application/json\r\n\r\n%s\r\n", boundary, content)
	fmt.Fprintf(&buf, "--%s--", boundary)

	return WithRetry(ctx, DefaultRetryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", s.uploadURL+"/files?uploadType=multipart", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "multipart/related; boundary="+boundary)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload to Drive: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("Drive returned status %d", resp.StatusCode)
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	})
}

func (s *DriveService) uploadMedia(ctx context.Context, accessToken, method, path string, content []byte) error {
	return WithRetry(ctx, DefaultRetryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, method, s.uploadURL+path, bytes.NewReader(content))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload to Drive: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("Drive returned status %d", resp.StatusCode)
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	})
}

func (s *DriveService) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from Drive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Drive returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *DriveService) postJSON(ctx context.Context, accessToken, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Drive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Drive returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
