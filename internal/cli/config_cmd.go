package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KevenMor/repensare-sub001/internal/config"
)

// secretKeys are masked by `config get` unless --reveal is given.
var secretKeys = map[string]bool{
	"server.auth.token":    true,
	"server.webhookSecret": true,
	"completion.apiKey":    true,
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read, edit and validate the config file",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

// editRaw loads the raw config document, applies fn to the parsed key path
// and saves the result when fn reports a change.
func editRaw(key string, fn func(raw map[string]any, path []string) (bool, error)) error {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	changed, err := fn(raw, path)
	if err != nil || !changed {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

func newConfigGetCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value, e.g. `config get ingest.echoWindow`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				val, ok := config.GetValueAtPath(raw, path)
				if !ok {
					return false, fmt.Errorf("key %q not set", args[0])
				}
				if s, isStr := val.(string); isStr && secretKeys[strings.Join(path, ".")] && !reveal {
					val = mask(s)
				}
				return false, printValue(val)
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value, e.g. `config set completion.provider gemini`",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			err := editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				config.SetValueAtPath(raw, path, value)
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Set %s = %v\n", args[0], value)
			warnIfInvalid()
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value so its default applies again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := editRaw(args[0], func(raw map[string]any, path []string) (bool, error) {
				if !config.UnsetValueAtPath(raw, path) {
					return false, fmt.Errorf("key %q not set", args[0])
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Unset %s\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file, defaults and environment overrides included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				fmt.Println("Config OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

// warnIfInvalid reports problems introduced by an edit without undoing it;
// `serve` refuses to start until they are fixed.
func warnIfInvalid() {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		fmt.Printf("warning: config no longer loads: %v\n", err)
		return
	}
	for _, issue := range config.Validate(&cfg) {
		fmt.Printf("warning: %s\n", issue)
	}
}

func printValue(v any) error {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		fmt.Println(val)
	}
	return nil
}

// parseValue types a command-line value the way YAML would. Durations such
// as "2m" stay strings; the loader parses them.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
