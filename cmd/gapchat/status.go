package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/gapchat/pkg/config"
)

type appStatus struct {
	GeneratedAt     time.Time
	Environment     string
	Port            string
	DatabasePath    string
	Users           int64
	Chats           int64
	Groups          int64
	Messages        int64
	PendingViewOnce int64
	ActiveInvites   int64
	PushSubscribers int64
	MessagesLast24h int64
	LatestMessageAt string
	DBSize          int64
	DBWALSize       int64
	DBSHMSize       int64
	DBMetricsReady  bool
	DBWarning       string
	StorageWarnings []string
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	status := collectStatus(cfg, time.Now())
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

type statusQuery struct {
	dest  *int64
	query string
	args  []any
}

func collectStatus(cfg *config.Config, now time.Time) appStatus {
	status := appStatus{
		GeneratedAt:  now,
		Environment:  cfg.Environment,
		Port:         cfg.Port,
		DatabasePath: cfg.DatabasePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}
	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}
	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	// Opened directly so that status never runs migrations.
	dbConn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}

	utcNow := now.UTC()
	queries := []statusQuery{
		{&status.Users, "SELECT COUNT(*) FROM users", nil},
		{&status.Chats, "SELECT COUNT(*) FROM chats", nil},
		{&status.Groups, "SELECT COUNT(*) FROM chats WHERE is_group = 1", nil},
		{&status.Messages, "SELECT COUNT(*) FROM messages", nil},
		{&status.PendingViewOnce, "SELECT COUNT(*) FROM messages WHERE is_view_once = 1 AND is_deleted = 0", nil},
		{&status.ActiveInvites, "SELECT COUNT(*) FROM invite_links WHERE is_active = 1 AND expires_at >= ?", []any{utcNow}},
		{&status.PushSubscribers, "SELECT COUNT(DISTINCT user_id) FROM push_subscriptions WHERE revoked_at IS NULL", nil},
		{&status.MessagesLast24h, "SELECT COUNT(*) FROM messages WHERE created_at >= ?", []any{utcNow.Add(-24 * time.Hour)}},
	}
	for _, q := range queries {
		if err := dbConn.QueryRow(q.query, q.args...).Scan(q.dest); err != nil {
			status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
			return status
		}
	}

	if err := dbConn.QueryRow("SELECT COALESCE(MAX(created_at), '') FROM messages").Scan(&status.LatestMessageAt); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}

	status.DBMetricsReady = true
	return status
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTimestamp(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "Gapchat Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if status.DBMetricsReady {
		fmt.Fprintf(out, "  Users              : %d\n", status.Users)
		fmt.Fprintf(out, "  Chats              : %d\n", status.Chats)
		fmt.Fprintf(out, "  Groups             : %d\n", status.Groups)
		fmt.Fprintf(out, "  Messages           : %d\n", status.Messages)
		fmt.Fprintf(out, "  Pending view-once  : %d\n", status.PendingViewOnce)
		fmt.Fprintf(out, "  Active invites     : %d\n", status.ActiveInvites)
		fmt.Fprintf(out, "  Push subscribers   : %d\n", status.PushSubscribers)
		fmt.Fprintf(out, "  Messages last 24h  : %d\n", status.MessagesLast24h)
		fmt.Fprintf(out, "  Latest message at  : %s\n", formatTimestamp(status.LatestMessageAt))
	} else {
		fmt.Fprintln(out, "  Database metrics   : n/a")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage")
	fmt.Fprintf(out, "  DB file       : %s\n", formatBytes(status.DBSize))
	fmt.Fprintf(out, "  DB WAL file   : %s\n", formatBytes(status.DBWALSize))
	fmt.Fprintf(out, "  DB SHM file   : %s\n", formatBytes(status.DBSHMSize))
	fmt.Fprintf(out, "  DB footprint  : %s\n", formatBytes(totalDB))

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"port":          status.Port,
		"database_path": status.DatabasePath,
		"metrics_ready": status.DBMetricsReady,
		"metrics": map[string]any{
			"users":             status.Users,
			"chats":             status.Chats,
			"groups":            status.Groups,
			"messages":          status.Messages,
			"pending_view_once": status.PendingViewOnce,
			"active_invites":    status.ActiveInvites,
			"push_subscribers":  status.PushSubscribers,
			"messages_last_24h": status.MessagesLast24h,
			"latest_message_at": formatTimestamp(status.LatestMessageAt),
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": footprint,
			"db_footprint_hum":   formatBytes(footprint),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
