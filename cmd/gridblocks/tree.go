// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/gridblocks/pkg/ux"
)

var (
	serverURL string
	treeJSON  bool

	treeCmd = &cobra.Command{
		Use:   "tree [block-id]",
		Short: "Fetch and render a block tree from a running server",
		Long: `Fetches the assembled tree for a block from the gridblocks server and
renders it as an indented outline: children grouped by slot, references
with their resolution tags, archived blocks and warnings marked.`,
		Args: cobra.ExactArgs(1),
		RunE: runTree,
	}
)

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().StringVarP(&serverURL, "server", "s", "", "Server base URL (default $GRIDBLOCKS_SERVER or http://localhost:8085)")
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Print the raw JSON response instead of the outline")
}

func runTree(cmd *cobra.Command, args []string) error {
	base := serverURL
	if base == "" {
		base = getEnvString("GRIDBLOCKS_SERVER", "http://localhost:8085")
	}

	endpoint := fmt.Sprintf("%s/v1/blocks/%s/tree", base, url.PathEscape(args[0]))
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("fetching tree: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			ux.Error(fmt.Sprintf("%s (%s)", apiErr.Error, apiErr.Code))
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	if treeJSON {
		fmt.Println(string(body))
		return nil
	}

	var tree struct {
		Root map[string]any `json:"root"`
	}
	if err := json.Unmarshal(body, &tree); err != nil {
		return fmt.Errorf("decoding tree: %w", err)
	}

	fmt.Fprint(os.Stdout, ux.RenderTree(tree.Root))
	return nil
}
