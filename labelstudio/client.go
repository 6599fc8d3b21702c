// Package labelstudio is a minimal client for the Label Studio REST API. It covers projects,
// task import, local files storages, snapshot exports and prediction upload.
package labelstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyclopcam/www"
	"github.com/sensorable/lsyolo"
	"golang.org/x/time/rate"
)

// Export statuses.
const (
	StatusCreated    = "created"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DefaultPollInterval paces WaitExport.
const DefaultPollInterval = 2 * time.Second

// Export is a snapshot export of a project.
type Export struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Status    string         `json:"status"`
	CreatedAt string         `json:"created_at,omitempty"`
	Counters  map[string]int `json:"counters,omitempty"`
}

// Client talks to a Label Studio server.
type Client struct {
	BaseURL      string        // e.g. http://localhost:8080
	APIKey       string        // Personal access token.
	PollInterval time.Duration // DefaultPollInterval if zero.
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send issues a request with v as JSON body, or no body if v is nil, and decodes the response into
// out. Any 2xx status is a success; Label Studio answers 201 on creation and 204 on deletion.
func (c *Client) send(ctx context.Context, method, url string, v, out any) error {
	var body io.Reader
	if v != nil {
		enc, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body = bytes.NewReader(enc)
	}
	req, err := c.newRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%v %v: %v %v", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%v %v: invalid response: %w", method, url, err)
	}
	return nil
}

// get fetches url and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := c.newRequest(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	return www.FetchJSON(req, out)
}

// CreateExport starts a snapshot export of all tasks of project.
func (c *Client) CreateExport(ctx context.Context, project int64, title string) (*Export, error) {
	export := &Export{}
	body := map[string]string{"title": title}
	if err := c.send(ctx, "POST", fmt.Sprintf("/api/projects/%v/exports/", project), body, export); err != nil {
		return nil, err
	}
	return export, nil
}

// Export fetches the current state of an export.
func (c *Client) Export(ctx context.Context, project, id int64) (*Export, error) {
	export := &Export{}
	if err := c.get(ctx, fmt.Sprintf("/api/projects/%v/exports/%v", project, id), export); err != nil {
		return nil, err
	}
	return export, nil
}

// WaitExport polls an export until it is completed. It fails if the export fails or ctx is done.
func (c *Client) WaitExport(ctx context.Context, project, id int64) (*Export, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		export, err := c.Export(ctx, project, id)
		if err != nil {
			return nil, err
		}
		switch export.Status {
		case StatusCompleted:
			return export, nil
		case StatusFailed:
			return export, fmt.Errorf("export %v of project %v failed", id, project)
		}
	}
}

// DownloadExport streams a completed export in Label Studio JSON format to w.
func (c *Client) DownloadExport(ctx context.Context, project, id int64, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, "GET", fmt.Sprintf("/api/projects/%v/exports/%v/download?exportType=JSON", project, id), nil)
	if err != nil {
		return 0, err
	}
	resp, err := www.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// CreatePrediction uploads a prediction for its task and returns the new prediction ID.
func (c *Client) CreatePrediction(ctx context.Context, p lsyolo.LSPrediction) (int64, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.send(ctx, "POST", "/api/predictions/", p, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// Project is a labeling project.
type Project struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	LabelConfig string `json:"label_config,omitempty"`
	TaskNumber  int    `json:"task_number,omitempty"`
}

// CreateProject creates a project with the given labeling interface. See LabelConfig.
func (c *Client) CreateProject(ctx context.Context, title, labelConfig string) (*Project, error) {
	project := &Project{}
	body := Project{Title: title, LabelConfig: labelConfig}
	if err := c.send(ctx, "POST", "/api/projects/", body, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Project fetches a project.
func (c *Client) Project(ctx context.Context, id int64) (*Project, error) {
	project := &Project{}
	if err := c.get(ctx, fmt.Sprintf("/api/projects/%v/", id), project); err != nil {
		return nil, err
	}
	return project, nil
}

// Projects lists the projects titled exactly title, or all projects if title is empty. Only the
// first 100 are returned.
func (c *Client) Projects(ctx context.Context, title string) ([]Project, error) {
	q := url.Values{"page_size": {"100"}}
	if title != "" {
		q.Set("title", title)
	}
	var page struct {
		Results []Project `json:"results"`
	}
	if err := c.get(ctx, "/api/projects/?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	if title == "" {
		return page.Results, nil
	}
	// The server filter matches substrings.
	matches := page.Results[:0]
	for _, p := range page.Results {
		if p.Title == title {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// DeleteProject deletes a project with all its tasks and annotations.
func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.send(ctx, "DELETE", fmt.Sprintf("/api/projects/%v/", id), nil, nil)
}

// ImportTasks creates one task per data payload in project and returns the number of tasks the
// server created.
func (c *Client) ImportTasks(ctx context.Context, project int64, data []lsyolo.LSTaskData) (int, error) {
	type task struct {
		Data lsyolo.LSTaskData `json:"data"`
	}
	tasks := make([]task, len(data))
	for i, d := range data {
		tasks[i].Data = d
	}
	var imported struct {
		TaskCount int `json:"task_count"`
	}
	if err := c.send(ctx, "POST", fmt.Sprintf("/api/projects/%v/import", project), tasks, &imported); err != nil {
		return 0, err
	}
	return imported.TaskCount, nil
}

// LocalStorage is a local files import storage. The server turns every file below Path that
// matches RegexFilter into a task when the storage is synced.
type LocalStorage struct {
	ID          int64  `json:"id,omitempty"`
	Project     int64  `json:"project"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	RegexFilter string `json:"regex_filter,omitempty"`
	UseBlobURLs bool   `json:"use_blob_urls"` // Files are images, not JSON task lists.

	Status        string `json:"status,omitempty"`
	LastSync      string `json:"last_sync,omitempty"`
	LastSyncCount int    `json:"last_sync_count,omitempty"`
}

// LocalStorages lists the local files storages of project.
func (c *Client) LocalStorages(ctx context.Context, project int64) ([]LocalStorage, error) {
	var storages []LocalStorage
	if err := c.get(ctx, fmt.Sprintf("/api/storages/localfiles/?project=%v", project), &storages); err != nil {
		return nil, err
	}
	return storages, nil
}

// CreateLocalStorage adds a local files storage. It does not import anything until synced.
func (c *Client) CreateLocalStorage(ctx context.Context, s LocalStorage) (*LocalStorage, error) {
	created := &LocalStorage{}
	if err := c.send(ctx, "POST", "/api/storages/localfiles/", s, created); err != nil {
		return nil, err
	}
	return created, nil
}

// SyncLocalStorage imports the files of a storage that are not tasks yet.
func (c *Client) SyncLocalStorage(ctx context.Context, id int64) (*LocalStorage, error) {
	synced := &LocalStorage{}
	if err := c.send(ctx, "POST", fmt.Sprintf("/api/storages/localfiles/%v/sync", id), nil, synced); err != nil {
		return nil, err
	}
	return synced, nil
}
