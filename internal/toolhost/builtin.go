// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BuiltinClient is the client identifier for tools shipped with chatflow.
const BuiltinClient = "local"

// maxReadFileSize bounds file reads fed into the conversation.
const maxReadFileSize = 256 * 1024

// RegisterBuiltins registers the built-in local tools.
func RegisterBuiltins(r *Registry) error {
	builtins := []Definition{
		{
			ID:          ToolID{Client: BuiltinClient, Name: "time"},
			Description: "Returns the current date and time.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"zone": {Type: "string", Description: "IANA time zone name, defaults to local time"},
				},
			},
			Run: runTime,
		},
		{
			ID:          ToolID{Client: BuiltinClient, Name: "read_file"},
			Description: "Reads a text file from the local filesystem.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Absolute or working-directory-relative file path"},
				},
				Required: []string{"path"},
			},
			Run: runReadFile,
		},
		{
			ID:          ToolID{Client: BuiltinClient, Name: "list_dir"},
			Description: "Lists the entries of a directory.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Directory path, defaults to the working directory"},
				},
			},
			Run: runListDir,
		},
	}

	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func runTime(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now()
	if zone, ok := args["zone"].(string); ok && zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", zone)
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC1123), nil
}

func runReadFile(ctx context.Context, args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("read_file requires a path argument")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxReadFileSize {
		return "", fmt.Errorf("%s is %d bytes, exceeds the %d byte limit", path, info.Size(), maxReadFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runListDir(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "(empty directory)", nil
	}
	return b.String(), nil
}
