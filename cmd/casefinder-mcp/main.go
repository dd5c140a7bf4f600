package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("CASEFINDER_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CASEFINDER_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CASEFINDER_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"casefinder",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	searchCaseTool := mcp.NewTool("search_case",
		mcp.WithDescription("Look up the crime report (noticia del delito) registered for an Ecuadorian license plate and check whether the given driver appears among the processed persons. A search drives a real browser against the public site and can take up to two minutes."),
		mcp.WithString("license_plate",
			mcp.Required(),
			mcp.Description("Vehicle license plate, e.g. 'PCJ8619' or 'PCJ-8619'"),
		),
		mcp.WithString("driver_name",
			mcp.Required(),
			mcp.Description("Driver's full name; accents and letter case are ignored when matching"),
		),
	)
	s.AddTool(searchCaseTool, handleSearchCase(newAPIClient(apiURL, apiKey)))

	serviceHealthTool := mcp.NewTool("service_health",
		mcp.WithDescription("Report the state of the casefinder service: circuit breaker, last successful search and, optionally, a live reachability probe of the target site."),
		mcp.WithBoolean("probe",
			mcp.Description("Also probe the target site (default: false)"),
		),
	)
	s.AddTool(serviceHealthTool, handleServiceHealth(newAPIClient(apiURL, apiKey)))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
