package zimfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/ports"
)

const (
	warehousePath    = "/wikipedia"
	schedulePrefix   = "wp1_selection_"
	fileStatusUpload = "uploaded"
)

// Client talks to the ZIM generation farm API.
type Client struct {
	endpoint     string
	token        string
	webhookURL   string
	downloadBase string
	http         *http.Client
	logger       *slog.Logger
}

var _ ports.PackagingFarm = (*Client)(nil)

// NewClient creates a reusable HTTP client from farm settings.
func NewClient(cfg config.ZimFarmConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		endpoint:     strings.TrimSuffix(cfg.URL, "/"),
		token:        cfg.Token,
		webhookURL:   webhookWithToken(cfg.WebhookURL, cfg.HookToken),
		downloadBase: strings.TrimSuffix(cfg.DownloadBaseURL, "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

type scheduleFlags struct {
	MwURL                    string `json:"mwUrl"`
	ArticleList              string `json:"articleList"`
	CustomZimTitle           string `json:"customZimTitle"`
	CustomZimDescription     string `json:"customZimDescription"`
	CustomZimLongDescription string `json:"customZimLongDescription,omitempty"`
	FilenamePrefix           string `json:"filenamePrefix"`
}

type scheduleConfig struct {
	TaskName      string        `json:"task_name"`
	WarehousePath string        `json:"warehouse_path"`
	Flags         scheduleFlags `json:"flags"`
}

type notification struct {
	Webhook []string `json:"webhook"`
}

type schedule struct {
	Name         string                  `json:"name"`
	Category     string                  `json:"category"`
	Periodicity  string                  `json:"periodicity"`
	Enabled      bool                    `json:"enabled"`
	Tags         []string                `json:"tags"`
	Config       scheduleConfig          `json:"config"`
	Notification map[string]notification `json:"notification,omitempty"`
}

// Submit creates a one-off schedule for the selection, requests a task for
// it and returns the task id. Once created, the schedule is removed again
// whatever the outcome, so a failed submission can be retried.
func (c *Client) Submit(ctx context.Context, req domain.ZimRequest) (string, error) {
	name := schedulePrefix + req.SelectionID
	sched := schedule{
		Name:        name,
		Category:    "wikipedia",
		Periodicity: "manually",
		Enabled:     true,
		Tags:        []string{},
		Config: scheduleConfig{
			TaskName:      "mwoffliner",
			WarehousePath: warehousePath,
			Flags: scheduleFlags{
				MwURL:                    "https://" + req.Project + ".org/",
				ArticleList:              req.SelectionURL,
				CustomZimTitle:           req.Title,
				CustomZimDescription:     req.Description,
				CustomZimLongDescription: req.LongDescription,
				FilenamePrefix:           name,
			},
		},
	}
	if c.webhookURL != "" {
		hook := notification{Webhook: []string{c.webhookURL}}
		sched.Notification = map[string]notification{"ended": hook, "failed": hook}
	}

	if err := c.do(ctx, http.MethodPost, "/schedules/", sched, nil); err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	defer c.deleteSchedule(ctx, name)

	var requested struct {
		Requested []string `json:"requested"`
	}
	err := c.do(ctx, http.MethodPost, "/requested-tasks/", map[string]any{"schedule_names": []string{name}}, &requested)
	if err != nil {
		return "", fmt.Errorf("request task: %w", err)
	}
	if len(requested.Requested) == 0 {
		return "", fmt.Errorf("request task: farm returned no task id")
	}
	return requested.Requested[0], nil
}

func (c *Client) deleteSchedule(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodDelete, "/schedules/"+url.PathEscape(name), nil, nil); err != nil {
		c.logger.Warn("zimfarm schedule cleanup failed", "schedule", name, "error", err)
	}
}

// TaskStatus fetches a task and reports its uploaded file, if any.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (domain.FarmTaskStatus, error) {
	var task struct {
		ID     string `json:"_id"`
		Status string `json:"status"`
		Files  map[string]struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return domain.FarmTaskStatus{}, fmt.Errorf("get task %s: %w", taskID, err)
	}

	status := domain.FarmTaskStatus{TaskID: taskID, Status: task.Status}
	names := make([]string, 0, len(task.Files))
	for name := range task.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if task.Files[name].Status == fileStatusUpload {
			status.FileURL = c.FileURL(name)
			break
		}
	}
	return status, nil
}

// FileURL is the public download location of an uploaded archive.
func (c *Client) FileURL(name string) string {
	return c.downloadBase + warehousePath + "/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, v any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("close response body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}

func webhookWithToken(hook, token string) string {
	if hook == "" || token == "" {
		return hook
	}
	u, err := url.Parse(hook)
	if err != nil {
		return hook
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
