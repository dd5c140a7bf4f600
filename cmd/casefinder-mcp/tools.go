package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/casefinder/models"
)

// apiClient talks to the casefinder HTTP API.
type apiClient struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func newAPIClient(apiURL, apiKey string) *apiClient {
	return &apiClient{
		// A search may spend the whole server-side deadline retrying.
		http:   &http.Client{Timeout: 150 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
	}
}

// do sends a request to the API and returns the status and body.
func (c *apiClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func handleSearchCase(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		plate, err := request.RequireString("license_plate")
		if err != nil {
			return mcp.NewToolResultError("license_plate is required"), nil
		}
		driver, err := request.RequireString("driver_name")
		if err != nil {
			return mcp.NewToolResultError("driver_name is required"), nil
		}

		_, body, err := c.do(ctx, http.MethodPost, "/api/v1/search", models.SearchPayload{
			LicensePlate: plate,
			DriverName:   driver,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.SearchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		// NOT_FOUND is a valid answer, not a tool failure.
		if resp.Error != nil && resp.Error.Kind != models.KindNotFound {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)), nil
		}
		return mcp.NewToolResultText(formatSearch(&resp)), nil
	}
}

func handleServiceHealth(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := "/api/v1/health"
		if request.GetBool("probe", false) {
			path += "?probe=true"
		}

		status, body, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(fmt.Sprintf("health endpoint returned %d", status)), nil
		}

		var resp models.HealthResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		return mcp.NewToolResultText(formatHealth(&resp)), nil
	}
}

func formatSearch(r *models.SearchResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plate: %s\nDriver: %s\n", r.SearchedPlate, r.SearchedDriver)

	if !r.SearchSuccessful {
		msg := r.ErrorMessage
		if msg == "" {
			msg = "no case report found"
		}
		fmt.Fprintf(&b, "\nNo case report: %s\n", msg)
		return b.String()
	}

	fmt.Fprintf(&b, "\nReport: %s\nLocation: %s\nDate: %s\nOffense: %s\n",
		r.ReportNumber, r.Location, r.Date, r.Offense)
	if len(r.Processed) > 0 {
		b.WriteString("Processed:\n")
		for _, p := range r.Processed {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	fmt.Fprintf(&b, "\nDriver match: %t (%s)\n", r.MatchFound, r.MatchTier)
	if r.CacheStatus != "" {
		fmt.Fprintf(&b, "Cache: %s\n", r.CacheStatus)
	}
	return b.String()
}

func formatHealth(h *models.HealthResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\nVersion: %s\nUptime: %s\n", h.Status, h.Version, h.Uptime)
	fmt.Fprintf(&b, "Circuit: %s (%d consecutive failures)\n", h.Circuit.State, h.Circuit.ConsecutiveFailures)
	if h.LastSuccessfulSearch != nil {
		fmt.Fprintf(&b, "Last successful search: %s\n", h.LastSuccessfulSearch.Format(time.RFC3339))
	} else {
		b.WriteString("Last successful search: never\n")
	}
	if p := h.Probe; p != nil {
		fmt.Fprintf(&b, "Probe: reachable=%t blocked=%t status=%d latency=%dms",
			p.Reachable, p.Blocked, p.StatusCode, p.LatencyMs)
		if p.Error != "" {
			fmt.Fprintf(&b, " error=%q", p.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
