package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/werkbank-io/werkbank/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "agents":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: werkbankctl agents <list|show|messages>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdAgentsList()
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: werkbankctl agents show <id>")
				os.Exit(1)
			}
			cmdAgentsShow(os.Args[3])
		case "messages":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: werkbankctl agents messages <id>")
				os.Exit(1)
			}
			cmdAgentMessages(os.Args[3], os.Args[4:])
		default:
			fmt.Fprintf(os.Stderr, "unknown agents subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "send":
		cmdSend(os.Args[2:])
	case "compliance":
		cmdCompliance(os.Args[2:])
	case "kpi":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: werkbankctl kpi <series|summary>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "series":
			cmdKPI("/api/kpi/series", os.Args[3:])
		case "summary":
			cmdKPI("/api/kpi/summary", os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown kpi subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: werkbankctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdAgentsList() {
	body, err := apiGet("/api/agents")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var agents []map[string]any
	json.Unmarshal(body, &agents)
	for _, a := range agents {
		fmt.Printf("%-16s %-12s %s\n", a["id"], a["pod"], a["status"])
	}
}

func cmdAgentsShow(id string) {
	body, err := apiGet("/api/agents/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdAgentMessages(id string, args []string) {
	fs := flag.NewFlagSet("agents messages", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	body, err := apiGet(fmt.Sprintf("/api/agents/%s/messages?limit=%d", id, *limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var msgs []map[string]any
	json.Unmarshal(body, &msgs)
	for _, m := range msgs {
		fmt.Printf("%-36s %-18s %-8s %s -> %s\n", m["id"], m["type"], m["status"], m["sender_id"], m["receiver_id"])
	}
}

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	receiver := fs.String("to", "", "Receiving agent ID (required)")
	sender := fs.String("from", "", "Sender ID (default: human_operator)")
	msgType := fs.String("type", "task_request", "Message type")
	priority := fs.String("priority", "normal", "Priority: low|normal|high|urgent")
	payload := fs.String("payload", "{}", "JSON payload")
	correlate := fs.String("correlate", "", "Correlation ID of the message this replies to")
	fs.Parse(args)

	if *receiver == "" {
		fmt.Fprintln(os.Stderr, "error: --to is required")
		os.Exit(1)
	}

	req := map[string]any{
		"sender_id":   *sender,
		"receiver_id": *receiver,
		"type":        *msgType,
		"priority":    *priority,
		"payload":     json.RawMessage(*payload),
	}
	if *correlate != "" {
		req["correlation_id"] = *correlate
	}
	body, err := apiPost("/api/messages", req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdCompliance(args []string) {
	fs := flag.NewFlagSet("compliance", flag.ExitOnError)
	agentID := fs.String("agent", "", "Filter by agent")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *agentID != "" {
		query += "&agent=" + *agentID
	}
	body, err := apiGet("/api/compliance/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []struct {
		AgentID    string `json:"agent_id"`
		ActionType string `json:"action_type"`
		Verdict    struct {
			Allowed  bool   `json:"allowed"`
			RiskTier string `json:"risk_tier"`
		} `json:"verdict"`
		Timestamp string `json:"timestamp"`
	}
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		outcome := "blocked"
		if e.Verdict.Allowed {
			outcome = "allowed"
		}
		fmt.Printf("%-28s %-16s %-28s %-8s %s\n", e.Timestamp, e.AgentID, e.ActionType, outcome, e.Verdict.RiskTier)
	}
}

func cmdKPI(path string, args []string) {
	fs := flag.NewFlagSet("kpi", flag.ExitOnError)
	agentID := fs.String("agent", "", "Agent ID (required)")
	metric := fs.String("metric", "", "Metric name (required)")
	limit := fs.Int("limit", 50, "Max results (series only)")
	fs.Parse(args)

	if *agentID == "" || *metric == "" {
		fmt.Fprintln(os.Stderr, "error: --agent and --metric are required")
		os.Exit(1)
	}

	body, err := apiGet(fmt.Sprintf("%s?agent=%s&metric=%s&limit=%d", path, *agentID, *metric, *limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level: info|warn|error")
	agentID := fs.String("agent", "", "Filter by agent")
	limit := fs.Int("limit", 100, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}
	if *agentID != "" {
		query += "&agent=" + *agentID
	}
	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []struct {
		Time    string `json:"time"`
		Level   string `json:"level"`
		Agent   string `json:"agent"`
		Message string `json:"message"`
	}
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%-28s %-6s %-14s %s\n", e.Time, e.Level, e.Agent, e.Message)
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest("GET", apiBase()+path, nil)
	if err != nil {
		return nil, err
	}
	return apiDo(req)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", apiBase()+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return apiDo(req)
}

func apiDo(req *http.Request) ([]byte, error) {
	if key := os.Getenv("WERKBANK_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func apiBase() string {
	if v := os.Getenv("WERKBANK_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func printUsage() {
	fmt.Println("werkbankctl — workspace management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                     Check daemon health")
	fmt.Println("  agents list                List all agents")
	fmt.Println("  agents show <id>           Show agent details")
	fmt.Println("  agents messages <id>       Show an agent's message history (--limit)")
	fmt.Println("  send                       Publish a message (--to, --type, --payload, --priority)")
	fmt.Println("  compliance                 Show compliance log (--agent, --limit)")
	fmt.Println("  kpi series                 Show metric observations (--agent, --metric, --limit)")
	fmt.Println("  kpi summary                Show metric aggregate (--agent, --metric)")
	fmt.Println("  logs                       Show recent daemon logs (--level, --agent, --limit)")
	fmt.Println("  config validate <path>     Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  WERKBANK_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  WERKBANK_API_KEY   API key for authentication")
}
