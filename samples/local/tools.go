// Copyright (c) Microsoft. All rights reserved.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	af "github.com/jochenvw/agentrun/agentframework"
)

// noArgs is the schema of a tool that takes no arguments. Anything else
// fails validation before the tool runs.
var noArgs = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=City name or location,required"`
	Unit     string `json:"unit"     jsonschema:"description=Temperature unit,enum=celsius|fahrenheit"`
}

type weatherReport struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Condition   string `json:"condition"`
}

type clockReading struct {
	Time     string `json:"time"`
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
	ISO8601  string `json:"iso8601"`
}

type dockerImage struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	ID         string `json:"id"`
	Size       string `json:"size"`
	Created    string `json:"created"`
}

// GetTools returns the local assistant's tools.
func GetTools() []af.Tool {
	return []af.Tool{
		af.NewTypedTool("get_weather", "Get the current weather for a location.", weather),
		af.NewTool("get_time", "Get the current time.", noArgs,
			func(ctx context.Context, _ json.RawMessage) (any, error) { return readClock(time.Now()), nil }),
		af.NewTool("list_local_files", "Lists files in the current working directory of the agent runtime", noArgs,
			listFiles, af.WithMaxInvocations(3)),
		af.NewTool("list_docker_images", "Lists Docker images available on the host machine", noArgs,
			listDockerImages, af.WithAsync()),
	}
}

// weather returns canned conditions.
func weather(_ context.Context, args weatherArgs) (any, error) {
	r := weatherReport{Location: args.Location, Temperature: 72, Unit: "fahrenheit", Condition: "sunny"}
	if args.Unit == "celsius" {
		r.Temperature, r.Unit = 22, "celsius"
	}
	return r, nil
}

func readClock(now time.Time) clockReading {
	return clockReading{
		Time:     now.Format("3:04 PM"),
		Date:     now.Format("Monday, January 2, 2006"),
		Timezone: now.Location().String(),
		ISO8601:  now.Format(time.RFC3339),
	}
}

// listFiles returns entry names of the working directory, never paths.
func listFiles(_ context.Context, _ json.RawMessage) (any, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	entries, err := os.ReadDir(wd)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", wd, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.Name())
	}
	return map[string][]string{"files": files}, nil
}

const dockerImageFormat = "{{.Repository}}\t{{.Tag}}\t{{.ID}}\t{{.Size}}\t{{.CreatedSince}}"

func listDockerImages(ctx context.Context, _ json.RawMessage) (any, error) {
	out, err := exec.CommandContext(ctx, "docker", "images", "--format", dockerImageFormat).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("docker images: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("docker images: %w", err)
	}
	images := parseDockerImages(string(out))
	return map[string]any{"count": len(images), "images": images}, nil
}

// parseDockerImages reads tab-separated `docker images` rows. Short rows
// leave the trailing fields empty.
func parseDockerImages(out string) []dockerImage {
	var images []dockerImage
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := make([]string, 5)
		copy(cols, strings.SplitN(line, "\t", 5))
		images = append(images, dockerImage{
			Repository: cols[0], Tag: cols[1], ID: cols[2], Size: cols[3], Created: cols[4],
		})
	}
	return images
}

// ToolCallLoggingMiddleware logs each tool call with the round it
// belongs to.
func ToolCallLoggingMiddleware(logger *slog.Logger) af.FunctionMiddleware {
	return func(next af.FunctionHandler) af.FunctionHandler {
		return func(ctx context.Context, tool af.Tool, args json.RawMessage) (any, error) {
			round, _ := af.RoundFromContext(ctx)
			start := time.Now()
			result, err := next(ctx, tool, args)
			attrs := []any{"tool", tool.Name(), "round", round.Index, "elapsed", time.Since(start)}
			if err != nil {
				logger.WarnContext(ctx, "tool call failed", append(attrs, "error", err)...)
				return result, err
			}
			logger.InfoContext(ctx, "tool call done", attrs...)
			return result, nil
		}
	}
}
