package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// defaultTaskListName is the list that workflow action items land in when
// the caller does not name one.
const defaultTaskListName = "WorkPilot"

// TasksService handles communication with the Google Tasks REST API
type TasksService struct {
	httpClient *http.Client
	baseURL    string
}

// NewTasksService creates a new TasksService instance
func NewTasksService() *TasksService {
	return &TasksService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://tasks.googleapis.com/tasks/v1",
	}
}

// taskListsResponse is the Tasks tasklists.list response
type taskListsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Updated string `json:"updated"`
	} `json:"items"`
}

// ListTaskLists returns all task lists for the user
func (s *TasksService) ListTaskLists(ctx context.Context, accessToken string) ([]models.TaskList, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("tasks", "tasklists.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("tasks", "tasklists.list")

	lists, err := WithCircuitBreaker(ctx, BreakerTasks, func() ([]models.TaskList, error) {
		var resp taskListsResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.getJSON(ctx, accessToken, "/users/@me/lists?maxResults=100", &resp)
		})
		if err != nil {
			return nil, err
		}

		out := make([]models.TaskList, 0, len(resp.Items))
		for _, tl := range resp.Items {
			out = append(out, models.TaskList{ID: tl.ID, Title: tl.Title, Updated: tl.Updated})
		}
		return out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("tasks", "tasklists.list", "request_failed")
		return nil, models.NewCollaboratorError("tasks", err)
	}

	return lists, nil
}

// tasksResponse is the Tasks tasks.list response
type tasksResponse struct {
	Items []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Notes     string `json:"notes"`
		Status    string `json:"status"`
		Due       string `json:"due"`
		Completed string `json:"completed"`
		Updated   string `json:"updated"`
	} `json:"items"`
}

// ListTasks returns the tasks in a list
func (s *TasksService) ListTasks(ctx context.Context, accessToken, taskListID string, showCompleted bool) ([]models.Task, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("tasks", "tasks.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("tasks", "tasks.list")

	tasks, err := WithCircuitBreaker(ctx, BreakerTasks, func() ([]models.Task, error) {
		params := url.Values{}
		params.Set("maxResults", "100")
		params.Set("showCompleted", fmt.Sprintf("%t", showCompleted))

		var resp tasksResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.getJSON(ctx, accessToken, "/lists/"+taskListID+"/tasks?"+params.Encode(), &resp)
		})
		if err != nil {
			return nil, err
		}

		out := make([]models.Task, 0, len(resp.Items))
		for _, t := range resp.Items {
			status := t.Status
			if status == "" {
				status = "needsAction"
			}
			out = append(out, models.Task{
				ID:         t.ID,
				Title:      t.Title,
				Notes:      t.Notes,
				Status:     status,
				Due:        t.Due,
				Completed:  t.Completed,
				Updated:    t.Updated,
				TaskListID: taskListID,
			})
		}
		return out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("tasks", "tasks.list", "request_failed")
		return nil, models.NewCollaboratorError("tasks", err)
	}

	return tasks, nil
}

// CreateTask creates a task, defaulting to the app's own list when no list
// id is given. The list is created on first use.
func (s *TasksService) CreateTask(ctx context.Context, accessToken, taskListID, title, notes string) (*models.Task, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("tasks", "tasks.insert")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("tasks", "tasks.insert")

	if taskListID == "" {
		var err error
		taskListID, err = s.getOrCreateTaskList(ctx, accessToken, defaultTaskListName)
		if err != nil {
			return nil, models.NewCollaboratorError("tasks", err)
		}
	}

	body := map[string]any{"title": title}
	if notes != "" {
		body["notes"] = notes
	}

	task, err := WithCircuitBreaker(ctx, BreakerTasks, func() (*models.Task, error) {
		var created struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Notes  string `json:"notes"`
			Status string `json:"status"`
		}
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.postJSON(ctx, accessToken, "/lists/"+taskListID+"/tasks", body, &created)
		})
		if err != nil {
			return nil, err
		}
		status := created.Status
		if status == "" {
			status = "needsAction"
		}
		return &models.Task{
			ID:         created.ID,
			Title:      created.Title,
			Notes:      created.Notes,
			Status:     status,
			TaskListID: taskListID,
		}, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("tasks", "tasks.insert", "request_failed")
		return nil, models.NewCollaboratorError("tasks", err)
	}

	return task, nil
}

func (s *TasksService) getOrCreateTaskList(ctx context.Context, accessToken, name string) (string, error) {
	var resp taskListsResponse
	err := WithRetry(ctx, DefaultRetryConfig, func() error {
		return s.getJSON(ctx, accessToken, "/users/@me/lists?maxResults=100", &resp)
	})
	if err != nil {
		return "", err
	}
	for _, tl := range resp.Items {
		if tl.Title == name {
			return tl.ID, nil
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	err = WithRetry(ctx, DefaultRetryConfig, func() error {
		return s.postJSON(ctx, accessToken, "/users/@me/lists", map[string]any{"title": name}, &created)
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *TasksService) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from Tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Tasks returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *TasksService) postJSON(ctx context.Context, accessToken, path string, body, out any) error {
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
		return fmt.Errorf("failed to post to Tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Tasks returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
