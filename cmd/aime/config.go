package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kelvinyan1/aime-reproduction/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `View the effective aime configuration.

Configuration is stored at ~/.config/aime/config.yaml
Project-specific overrides can be placed in .aime.yaml
Every key can be overridden with AIME_<SECTION>_<KEY>, e.g. AIME_ORCHESTRATOR_MAX_ROUNDS.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, line := range settingLines(cfg) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "\napi key source: %s\n", config.GetAPIKeySource(cfg))
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none, create " + config.ProjectFileName + ")"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// secretKeys are masked by "config show".
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"redis.password": true,
}

// settingLines renders the settings as sorted "key: value" lines.
func settingLines(c *config.Config) []string {
	settings := c.Settings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := settings[k]
		if secretKeys[k] {
			v = config.MaskAPIKey(fmt.Sprint(v))
		}
		if list, ok := v.([]string); ok {
			v = strings.Join(list, ",")
		}
		lines = append(lines, fmt.Sprintf("%s: %v", k, v))
	}
	return lines
}
