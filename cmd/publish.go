package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/bus"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/logging"
)

var publishSkipInvalid bool

var publishCmd = &cobra.Command{
	Use:   "publish [file]",
	Short: "Publish OCSF events to the events stream",
	Long: `Read OCSF events, one JSON object per line, from a file or stdin and add
them to the "events" stream so a running serve worker enriches them.

Examples:
  cybersponse-lookup publish events.jsonl
  cat events.jsonl | cybersponse-lookup publish -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().BoolVar(&publishSkipInvalid, "skip-invalid", false, "Skip lines that are not JSON objects instead of failing")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := newLogger(cfg, "publish")

	if cfg.Redis.URL == "" {
		return fmt.Errorf("publish needs a Redis URL (--redis or redis.url)")
	}

	input := cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		input = f
	}

	eventBus, err := bus.NewRedisBus(cfg.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	stats, err := publishEvents(cmd.Context(), input, eventBus, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Published %d event(s), %d invalid.\n", stats.Published, stats.Invalid)
	if stats.Invalid > 0 && !publishSkipInvalid {
		return fmt.Errorf("%d line(s) were not valid JSON objects", stats.Invalid)
	}
	return nil
}

type publishStats struct {
	Published int
	Invalid   int
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, event bus.EventMessage) error
}

// publishEvents publishes every JSON object line in r. Invalid lines are
// counted and skipped; a publish failure stops the run.
func publishEvents(ctx context.Context, r io.Reader, b eventPublisher, logger logging.Logger) (publishStats, error) {
	var stats publishStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line++

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var fields struct {
			ClassName string `json:"class_name"`
			TypeName  string `json:"type_name"`
			Time      int64  `json:"time"`
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			logger.Warn("skipping invalid line", "line", line, "error", err)
			stats.Invalid++
			continue
		}
		// best effort; a mistyped field just leaves its default
		_ = json.Unmarshal([]byte(raw), &fields)

		eventType := fields.ClassName
		if eventType == "" {
			eventType = fields.TypeName
		}

		event := bus.EventMessage{
			EventID:   uuid.New().String(),
			EventType: eventType,
			RawJSON:   raw,
		}
		if fields.Time > 0 {
			// OCSF times are epoch milliseconds
			event.Timestamp = fields.Time / 1000
		}

		if err := b.PublishEvent(ctx, event); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Published++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("error reading input: %w", err)
	}
	return stats, nil
}
