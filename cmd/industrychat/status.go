package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"industrychat/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show industrychat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := "http://" + cfg.HTTPAddr()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printWarning("server not running")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printSuccess("server running on %s", cfg.HTTPAddr())
		} else {
			printError("server returned HTTP %d", resp.StatusCode)
		}
	}

	printStatus("Chat model", "%s", cfg.LLM.ChatModel)
	printStatus("Embed model", "%s", cfg.LLM.EmbedModel)

	if running {
		profilesResp, err := apiGet(client, serverURL+"/v1/profiles", cfg.Server.Token)
		if err == nil {
			var profiles []json.RawMessage
			if json.NewDecoder(profilesResp.Body).Decode(&profiles) == nil {
				printStatus("Profiles", "%d", len(profiles))
			}
			profilesResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
