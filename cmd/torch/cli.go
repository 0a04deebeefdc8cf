package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/campfirevalley/riverboat/internal/client"
	"github.com/campfirevalley/riverboat/internal/envelope"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	return &cli.App{
		Name:    "torch",
		Usage:   "Send tasks to a riverboat gateway",
		Version: Version,
		Commands: []*cli.Command{
			sendCmd(),
			validateCmd(),
			statusCmd(),
		},
	}
}

func boxFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "claim", Aliases: []string{"c"}, Value: "generate_code",
			Usage: "Claim: generate_code|review_code|execute_command"},
		&cli.StringFlag{Name: "os", Value: "linux", Usage: "Target OS: windows|linux|macos"},
		&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace root (defaults to cwd)"},
		&cli.StringSliceFlag{Name: "file", Aliases: []string{"f"}, Usage: "Attach a file (repeatable)"},
		&cli.StringFlag{Name: "current-file", Usage: "File currently open in the editor"},
	}
}

func sendCmd() *cli.Command {
	flags := append(boxFlags(),
		&cli.StringFlag{Name: "endpoint", Aliases: []string{"e"},
			Value: "http://localhost:8080/api/v1/partybox", EnvVars: []string{"TORCH_ENDPOINT"},
			Usage: "Gateway URL"},
		&cli.StringFlag{Name: "auth-secret", EnvVars: []string{"TORCH_AUTH_SECRET"},
			Usage: "Shared HS256 secret for bearer signing"},
		&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "Per-attempt timeout"},
	)
	return &cli.Command{
		Name:      "send",
		Usage:     "Build a Party Box and process it remotely",
		ArgsUsage: "<task>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			box, err := buildBox(c)
			if err != nil {
				return err
			}

			cl := client.New(client.Config{
				Endpoint:   c.String("endpoint"),
				AuthSecret: c.String("auth-secret"),
				Timeout:    c.Duration("timeout"),
			})
			resp, errResp := cl.Send(c.Context, box)
			if errResp != nil {
				return outputError(errResp)
			}
			return outputJSON(resp)
		},
	}
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a Party Box locally without sending it",
		ArgsUsage: "<task>",
		Flags:     boxFlags(),
		Action: func(c *cli.Context) error {
			box, err := buildBox(c)
			if err != nil {
				return err
			}
			return outputJSON(envelope.Validate(box))
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look up a delivery on the gateway",
		ArgsUsage: "<box-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "endpoint", Aliases: []string{"e"},
				Value: "http://localhost:8080", EnvVars: []string{"TORCH_ENDPOINT_BASE"},
				Usage: "Gateway base URL"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one box-id argument is required", 1)
			}
			url := strings.TrimRight(c.String("endpoint"), "/") + "/api/v1/partybox/" + c.Args().First()

			req, err := http.NewRequestWithContext(c.Context, http.MethodGet, url, nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if resp.StatusCode != http.StatusOK {
				return cli.Exit(fmt.Sprintf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), 1)
			}
			var v any
			if err := json.Unmarshal(body, &v); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return outputJSON(v)
		},
	}
}

// buildBox assembles and validates the envelope from flags and the
// task argument (falling back to stdin when piped).
func buildBox(c *cli.Context) (*envelope.PartyBox, error) {
	task := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if task == "" && stdinHasData() {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, cli.Exit(err.Error(), 1)
		}
		task = strings.TrimSpace(string(data))
	}
	if task == "" {
		return nil, cli.Exit("a task is required (argument or stdin)", 1)
	}

	workspace := c.String("workspace")
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, cli.Exit(err.Error(), 1)
		}
		workspace = wd
	}

	attachments, err := readAttachments(c.StringSlice("file"))
	if err != nil {
		return nil, err
	}

	box, buildErr := envelope.Build(envelope.BuildInput{
		Claim:         envelope.Claim(c.String("claim")),
		Task:          task,
		OS:            envelope.OSType(c.String("os")),
		WorkspaceRoot: workspace,
		Attachments:   attachments,
		Context: envelope.TorchContext{
			CurrentFile: c.String("current-file"),
		},
	})
	if buildErr != nil {
		return nil, cli.Exit(buildErr.Error(), 1)
	}
	return box, nil
}

func readAttachments(paths []string) ([]envelope.Attachment, error) {
	out := make([]envelope.Attachment, 0, len(paths))
	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("reading attachment %s: %v", p, err), 1)
		}
		out = append(out, envelope.Attachment{
			Path:      filepath.ToSlash(filepath.Clean(p)),
			Content:   string(data),
			Type:      envelope.FileTypeFor(p),
			Timestamp: now,
		})
	}
	return out, nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats a coded error for the terminal.
func outputError(errResp *envelope.ErrorResponse) error {
	hint := ""
	if errResp.RetryPossible {
		hint = " (retry may succeed)"
	}
	return cli.Exit(fmt.Sprintf("[%s] %s%s", errResp.Code, errResp.Message, hint), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
