package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/config"
	"github.com/shelfmark/shelfmark/internal/outfmt"
	"github.com/shelfmark/shelfmark/internal/settings"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage configuration and user settings",
	Long: `Inspect configuration and manage user settings.

Configuration (config.yaml) describes how shelfmark runs: library
location, catalog endpoint, daemon intervals. Settings (settings.toml)
hold small user-scoped values like a kindle email or preferred format,
managed with get/set/unset/list.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Catalog.Password != "" {
			shown.Catalog.Password = "********"
		}
		return outfmt.Write(cmd.Context(), appUI.Stdout(), shown, func(w io.Writer) error {
			return outfmt.WriteYAML(w, shown)
		})
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, err := configFilePath()
		if err != nil {
			return err
		}
		settingsPath, err := config.SettingsPath()
		if err != nil {
			return err
		}
		printPath := func(label, path string) {
			marker := appUI.Dim("(missing)")
			if _, err := os.Stat(path); err == nil {
				marker = appUI.Pass("(exists)")
			}
			appUI.Printf("%-10s %s %s\n", label, path, marker)
		}
		printPath("Config:", cfgPath)
		printPath("Settings:", settingsPath)
		return nil
	},
}

var configLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store catalog credentials",
	Long: `Prompt for the OPDS catalog URL and credentials and write them to the
config file. The password is read without echo and an empty password
keeps the current one.`,
	RunE: runConfigLogin,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a user setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSettings()
		if err != nil {
			return err
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		appUI.Printf("%s %s = %s\n", appUI.Pass("✓"), args[0], args[1])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a user setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSettings()
		if err != nil {
			return err
		}
		value, ok := s.Get(args[0])
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		appUI.Println(value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a user setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSettings()
		if err != nil {
			return err
		}
		if err := s.Delete(args[0]); err != nil {
			return err
		}
		appUI.Printf("%s %s unset\n", appUI.Pass("✓"), args[0])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all user settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSettings()
		if err != nil {
			return err
		}
		values := s.All()
		return outfmt.Write(cmd.Context(), appUI.Stdout(), values, func(w io.Writer) error {
			if len(values) == 0 {
				fmt.Fprintln(w, "No settings")
				return nil
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s = %s\n", k, values[k])
			}
			return nil
		})
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configLoginCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}

// configFilePath resolves where login writes: the --config flag when
// given, the default location otherwise.
func configFilePath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// openSettings loads the user settings store.
func openSettings() (*settings.Store, error) {
	path, err := config.SettingsPath()
	if err != nil {
		return nil, err
	}
	s := settings.New(path, cliLogger())
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func runConfigLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("login requires a terminal (set SHELFMARK_CATALOG_URL and friends for scripted use)")
	}

	url := cfg.Catalog.URL
	user := cfg.Catalog.Username
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Catalog URL").
			Placeholder("https://books.example.com/opds").
			Value(&url),
		huh.NewInput().
			Title("Username").
			Value(&user),
	))
	if err := form.Run(); err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("catalog URL is required")
	}

	fmt.Fprint(os.Stderr, "Password (empty keeps current): ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := cfg.Catalog.Password
	if len(pw) > 0 {
		password = string(pw)
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetConfigType("yaml")
	_ = v.ReadInConfig()
	v.Set("catalog.url", url)
	v.Set("catalog.username", user)
	if password != "" {
		v.Set("catalog.password", password)
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(cfgPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	appUI.Printf("%s Credentials saved to %s\n", appUI.Pass("✓"), cfgPath)

	appUI.Printf("Checking catalog connection...\n")
	creds := catalog.Credentials{Username: user, Password: password}
	client := catalog.NewOPDSClient(url, creds, cfg.Catalog.RequestsPerSecond, cfg.Catalog.MaxRetries)
	feed, err := client.Fetch(ctx, "")
	if err != nil {
		appUI.Printf("%s Could not reach the catalog: %v\n", appUI.Warn("⚠"), err)
		return nil
	}
	appUI.Printf("%s Connected: root feed has %d entries\n", appUI.Pass("✓"), len(feed.Entries))
	return nil
}
