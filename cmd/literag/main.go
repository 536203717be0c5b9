// Package main is the entry point for the literag CLI. The serve
// subcommand runs the daemon; every other subcommand is an HTTP
// client of it.
//
// Keyword search relies on the SQLite FTS5 extension, which
// mattn/go-sqlite3 only compiles in behind a build tag:
//
//	go build -tags sqlite_fts5 ./cmd/literag
//
// Without the tag the daemon starts but fails to create the
// chunks_fts table.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/config"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/daemon"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

var (
	daemonAddr string
	configFile string
)

// client talks to a running daemon.
type client struct {
	httpClient *http.Client
	baseURL    string
}

func newClient() *client {
	return &client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "http://" + daemonAddr,
	}
}

// apiError extracts the daemon error envelope from a non-2xx body.
func apiError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("daemon answered %d", status)
}

func (c *client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable at %s: %w", daemonAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *client) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *client) post(path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// printJSON pretty-prints a JSON response body.
func printJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "literag",
		Short: "literag - hybrid document retrieval service",
		Long: `literag ingests documents into a hybrid retrieval index:
chunk text and keyword search live in SQLite, semantic vectors in
Qdrant. Upload Markdown into named collections and query with fused
keyword + semantic search.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "localhost:3000",
		"Daemon address for client commands")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file path (default: literag.yaml search paths)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(collectionsCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(gcCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// serveCmd runs the daemon in the foreground.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the literag daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat, _ := cmd.Flags().GetString("log-format"); logFormat != "" {
				cfg.LogFormat = logFormat
			}
			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.API.Port = port
			}

			observability.SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

			daemon.Version = Version
			daemon.BuildTime = BuildTime

			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			return d.Run()
		},
	}

	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().String("log-format", "", "Log format: json, console")
	cmd.Flags().Int("port", 0, "API port override")
	return cmd
}

// initCmd writes the default configuration file.
func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("output")
			if path == "" {
				homeDir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(homeDir, ".literag", "literag.yaml")
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return err
			}

			data, err := yaml.Marshal(config.DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return err
			}

			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Target path (default: ~/.literag/literag.yaml)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/status")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/health")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

// collectionsCmd is the parent command for collection operations.
func collectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"col"},
		Short:   "Manage collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/collections")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			data, err := newClient().post("/collections", map[string]string{
				"name":        args[0],
				"description": description,
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	create.Flags().StringP("description", "d", "", "Collection description")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <collection-id>",
		Short: "Show a collection with document and chunk counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/collections/" + args[0])
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <collection-id>",
		Short: "Delete a collection and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/collections/" + args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted collection %s\n", args[0])
			return nil
		},
	})

	return cmd
}

// docsCmd is the parent command for document operations.
func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage documents",
	}

	upload := &cobra.Command{
		Use:   "upload <collection-id> <file>",
		Short: "Upload a file into a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := uploadDoc(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	cmd.AddCommand(upload)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <collection-id>",
		Short: "List documents in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/collections/" + args[0] + "/docs")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <doc-id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/docs/" + args[0])
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	chunks := &cobra.Command{
		Use:   "chunks <doc-id>",
		Short: "List a document's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			data, err := newClient().get(fmt.Sprintf("/docs/%s/chunks?page=%d&limit=%d", args[0], page, limit))
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	chunks.Flags().Int("page", 1, "Page number")
	chunks.Flags().Int("limit", 50, "Chunks per page")
	cmd.AddCommand(chunks)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Soft-delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/docs/" + args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted document %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resync <doc-id>",
		Short: "Re-ingest a document from its stored source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/docs/"+args[0]+"/resync", nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "job <doc-id>",
		Short: "Show a document's sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/docs/" + args[0] + "/job")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	return cmd
}

// uploadDoc posts a file as multipart form data.
func uploadDoc(collectionID, path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	c := newClient()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/collections/"+collectionID+"/docs", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <collection-id> <query>",
		Short: "Run a hybrid search against a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			params := url.Values{}
			params.Set("collectionId", args[0])
			params.Set("q", args[1])
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			data, err := newClient().get("/search?" + params.Encode())
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}

	cmd.Flags().IntP("limit", "n", 10, "Maximum results")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			params.Set("limit", strconv.Itoa(limit))

			data, err := newClient().get("/jobs?" + params.Encode())
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}

	cmd.Flags().String("status", "", "Filter by job status (NEW, FAILED, DEAD, ...)")
	cmd.Flags().Int("limit", 50, "Maximum jobs listed")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Aggregate job counts and recent failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/jobs/stats")
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	})

	return cmd
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run a reconciliation sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/gc", nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}
