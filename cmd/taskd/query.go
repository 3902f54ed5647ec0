package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskd/internal/httpapi"
)

var (
	queryLimit int
	queryType  string
)

// queryCmd searches a knowledge collection on a running daemon.
var queryCmd = &cobra.Command{
	Use:   "query [collection] [text]",
	Short: "Search a knowledge collection",
	Long: `Search documents in a knowledge collection by relevance.

Examples:
  # Search the Developer agent's knowledge
  taskd query agent_Developer "retry logic"

  # Only step results
  taskd query agent_Developer "retry logic" --type step_result`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 5, "maximum results")
	queryCmd.Flags().StringVar(&queryType, "type", "", "filter by document type")
}

// runQuery handles the query command.
func runQuery(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("q", args[1])
	params.Set("limit", strconv.Itoa(queryLimit))
	if queryType != "" {
		params.Set("type", queryType)
	}

	path := "/api/v1/collections/" + url.PathEscape(args[0]) + "/query?" + params.Encode()

	var resp httpapi.QueryResponse
	if err := getJSON(path, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No results")
		return nil
	}

	for i, r := range resp.Results {
		fmt.Printf("%d. %s (score %.2f)\n", i+1, r.ID, r.Score)
		fmt.Printf("   %s\n", firstLine(r.Content))
	}
	return nil
}

// firstLine returns the first line of s, truncated for display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
