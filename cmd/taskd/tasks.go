package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskd/internal/httpapi"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

var (
	submitDescription string
	submitEnhanced    bool
	submitCreatePR    bool
)

// submitCmd submits a new task to a running daemon.
var submitCmd = &cobra.Command{
	Use:   "submit [title]",
	Short: "Submit a new task",
	Long: `Submit a task to a running taskd server. The task is stored but not
executed; use run to start it.

Examples:
  # Submit a basic task
  taskd submit "Add a health endpoint"

  # Submit with a description and knowledge-backed context
  taskd submit "Add a health endpoint" -d "Expose GET /health returning ok" --enhanced

  # Publish the result as a pull request
  taskd submit "Add a health endpoint" --enhanced --pr`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

// runCmd starts execution of a submitted task.
var runCmd = &cobra.Command{
	Use:   "run [task-id]",
	Short: "Execute a task",
	Long: `Start executing a submitted task. Execution runs in the background on
the server; use show to follow progress.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// cancelCmd cancels a submitted or running task.
var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Long: `Cancel a task. A running task stops at the next phase boundary; a
submitted task is cancelled immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

// listCmd lists all tasks.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// showCmd shows one task with its plan and logs.
var showCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "task description")
	submitCmd.Flags().BoolVar(&submitEnhanced, "enhanced", false, "build knowledge-backed context and record artifacts")
	submitCmd.Flags().BoolVar(&submitCreatePR, "pr", false, "publish the result as a branch and pull request")
}

// runSubmit handles the submit command.
func runSubmit(cmd *cobra.Command, args []string) error {
	req := httpapi.SubmitTaskRequest{
		Title:       args[0],
		Description: submitDescription,
		UseEnhanced: submitEnhanced,
		CreatePR:    submitCreatePR,
	}

	var created task.Task
	if err := postJSON("/api/v1/tasks", req, &created); err != nil {
		return err
	}

	fmt.Printf("Submitted task %s\n", created.ID)
	fmt.Printf("Status: %s\n", created.Status)
	return nil
}

// runRun handles the run command.
func runRun(cmd *cobra.Command, args []string) error {
	var started task.Task
	if err := postJSON("/api/v1/tasks/"+url.PathEscape(args[0])+"/execute", nil, &started); err != nil {
		return err
	}

	fmt.Printf("Task %s started\n", started.ID)
	fmt.Printf("Status: %s\n", started.Status)
	return nil
}

// runCancel handles the cancel command.
func runCancel(cmd *cobra.Command, args []string) error {
	var cancelled task.Task
	if err := postJSON("/api/v1/tasks/"+url.PathEscape(args[0])+"/cancel", nil, &cancelled); err != nil {
		return err
	}

	fmt.Printf("Task %s cancelled\n", cancelled.ID)
	return nil
}

// runList handles the list command.
func runList(cmd *cobra.Command, args []string) error {
	var resp httpapi.TaskListResponse
	if err := getJSON("/api/v1/tasks", &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No tasks")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %s\n", "ID", "STATUS", "TITLE")
	for _, t := range resp.Tasks {
		fmt.Printf("%-36s  %-12s  %s\n", t.ID, t.Status, t.Title)
	}
	return nil
}

// runShow handles the show command.
func runShow(cmd *cobra.Command, args []string) error {
	var t task.Task
	if err := getJSON("/api/v1/tasks/"+url.PathEscape(args[0]), &t); err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Title:     %s\n", t.Title)
	if t.Description != "" {
		fmt.Printf("About:     %s\n", t.Description)
	}
	fmt.Printf("Status:    %s\n", t.Status)
	fmt.Printf("Submitted: %s\n", t.Timestamp)
	fmt.Printf("Enhanced:  %t\n", t.UseEnhanced)
	if t.PRBranch != "" {
		fmt.Printf("Branch:    %s\n", t.PRBranch)
	}
	if t.PRURL != "" {
		fmt.Printf("PR:        %s\n", t.PRURL)
	}

	if t.Plan != nil && len(t.Plan.Steps) > 0 {
		fmt.Println("\nPlan:")
		for i, s := range t.Plan.Steps {
			fmt.Printf("  %d. [%s] %s\n", i+1, s.Status, s.Description)
		}
	}

	if len(t.Logs) > 0 {
		fmt.Println("\nLogs:")
		for _, line := range t.Logs {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

// getJSON performs a GET against the server and decodes the response.
func getJSON(path string, out any) error {
	reqURL := serverURL + path

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST against the server. A nil body sends an empty
// request; a nil out discards the response body.
func postJSON(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	reqURL := serverURL + path
	req, err := http.NewRequest(http.MethodPost, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError formats a non-2xx response using the server error body when
// it parses, falling back to the raw body.
func apiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}

	var errResp httpapi.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		if errResp.Code != "" {
			return fmt.Errorf("server returned status %d: %s (%s)", resp.StatusCode, errResp.Error, errResp.Code)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
