package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/huntr-cli/internal/session"
)

var clientJSON = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	serverURL    string
	authToken    string
	huntUser     string
	huntPlatform string
	huntURL      string
	huntBudget   time.Duration
	huntCriteria []string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Control hunt sessions on a running huntr-cli server",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a hunt session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := make(map[string]string, len(huntCriteria))
		for _, kv := range huntCriteria {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("criteria must be key=value, got %q", kv)
			}
			criteria[parts[0]] = parts[1]
		}

		params := session.StartParams{
			UserID:     huntUser,
			Platform:   huntPlatform,
			StarterURL: huntURL,
			Budget:     huntBudget,
			Criteria:   criteria,
		}
		body, err := clientJSON.Marshal(params)
		if err != nil {
			return err
		}
		return callServer(http.MethodPost, "/api/sessions/"+args[0]+"/start", body)
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a hunt session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(http.MethodPost, "/api/sessions/"+args[0]+"/stop", nil)
	},
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a hunt session before its next action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(http.MethodPost, "/api/sessions/"+args[0]+"/pause", nil)
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused hunt session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(http.MethodPost, "/api/sessions/"+args[0]+"/resume", nil)
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one session's lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(http.MethodGet, "/api/sessions/"+args[0]+"/status", nil)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callServer(http.MethodGet, "/api/sessions/", nil)
	},
}

var sessionTailCmd = &cobra.Command{
	Use:   "tail <id>",
	Short: "Follow a session's activity feed until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := callServer(http.MethodPost, "/api/sessions/"+id+"/observer", nil); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		defer func() {
			_ = callServerQuiet(http.MethodDelete, "/api/sessions/"+id+"/observer", nil)
		}()

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			entries, err := fetchActivity(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for _, e := range entries {
				printEntry(e)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8750", "base URL of the huntr-cli server")
	sessionCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for the control API")

	sessionStartCmd.Flags().StringVar(&huntUser, "user", "", "user identifier the hunt runs for")
	sessionStartCmd.Flags().StringVar(&huntPlatform, "platform", "", "job board to hunt on")
	sessionStartCmd.Flags().StringVar(&huntURL, "url", "", "search results URL to start from")
	sessionStartCmd.Flags().DurationVar(&huntBudget, "budget", 0, "wall-clock limit for the run (0 = unlimited)")
	sessionStartCmd.Flags().StringArrayVar(&huntCriteria, "criteria", nil, "scoring criteria as key=value (repeatable)")
	_ = sessionStartCmd.MarkFlagRequired("platform")

	sessionCmd.AddCommand(sessionStartCmd, sessionStopCmd, sessionPauseCmd,
		sessionResumeCmd, sessionStatusCmd, sessionListCmd, sessionTailCmd)
	rootCmd.AddCommand(sessionCmd)
}

func newRequest(method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	return req, nil
}

// callServer performs the request and prints the JSON response to stdout.
func callServer(method, path string, body []byte) error {
	req, err := newRequest(method, path, body)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(payload)))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func callServerQuiet(method, path string, body []byte) error {
	req, err := newRequest(method, path, body)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func fetchActivity(ctx context.Context, id string) ([]session.Entry, error) {
	req, err := newRequest(http.MethodGet, "/api/sessions/"+id+"/activity", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}

	var entries []session.Entry
	if err := clientJSON.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func printEntry(e session.Entry) {
	prefix := e.At.Format("15:04:05")
	if e.ThreadTitle != "" {
		fmt.Printf("%s [%s] (%s/%s) %s\n", prefix, e.Kind, e.ThreadTitle, e.ThreadStatus, e.Message)
		return
	}
	fmt.Printf("%s [%s] %s\n", prefix, e.Kind, e.Message)
}
