package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolcall-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the tool-call bridge's configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the upstream model and protocol.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example YAML configuration",
	Long:  `Generate an example YAML configuration file.`,
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "Overwrite existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("toolcall-bridge Configuration Setup")
	color.Yellow("Follow the prompts to configure the upstream model and protocol.")

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label string) (string, error) {
		fmt.Printf("%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("error reading %s: %w", label, err)
		}
		return strings.TrimSpace(line), nil
	}

	apiBase, err := prompt("Upstream API Base URL (chat-completions endpoint)")
	if err != nil {
		return err
	}

	apiKey, err := prompt("Upstream API Key")
	if err != nil {
		return err
	}

	model, err := prompt("Upstream Model")
	if err != nil {
		return err
	}

	protocolChoice, err := prompt(fmt.Sprintf("Protocol (%s)", strings.Join(config.KnownProtocols, "/")))
	if err != nil {
		return err
	}
	if protocolChoice == "" {
		protocolChoice = "hermes"
	}
	if !isKnownProtocol(protocolChoice) {
		return fmt.Errorf("unknown protocol %q, expected one of %s", protocolChoice, strings.Join(config.KnownProtocols, ", "))
	}

	proxyAPIKey, err := prompt("Proxy API Key (optional, for client authentication)")
	if err != nil {
		return err
	}

	cfg := &config.Config{
		Host:     config.DefaultHost,
		Port:     config.DefaultPort,
		APIKey:   proxyAPIKey,
		Protocol: protocolChoice,
		Upstream: config.Upstream{
			Name:    "openai-compatible",
			APIBase: apiBase,
			APIKey:  apiKey,
			Model:   model,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the bridge with: tcb start")

	return nil
}

func isKnownProtocol(name string) bool {
	for _, p := range config.KnownProtocols {
		if p == name {
			return true
		}
	}
	return false
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'tcb config init' or 'tcb config generate' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Protocol", cfg.Protocol)
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	configType := "JSON"
	if cfgMgr.HasYAML() {
		configType = "YAML"
	}
	fmt.Printf("  %-15s: %s\n", "Format", configType)

	fmt.Println("\nUpstream:")
	fmt.Printf("  %-15s: %s\n", "Name", cfg.Upstream.Name)
	fmt.Printf("  %-15s: %s\n", "URL", cfg.Upstream.APIBase)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.Upstream.APIKey))
	fmt.Printf("  %-15s: %s\n", "Model", cfg.Upstream.Model)

	fmt.Println("\nCoercion Policy:")
	if cfg.Coercion.RepairAgainstSchema != nil {
		fmt.Printf("  %-25s: %t\n", "Repair Against Schema", *cfg.Coercion.RepairAgainstSchema)
	}
	if cfg.Coercion.ThrowOnDuplicateStringTags != nil {
		fmt.Printf("  %-25s: %t\n", "Throw On Duplicate Tags", *cfg.Coercion.ThrowOnDuplicateStringTags)
	}
	fmt.Printf("  %-25s: %t\n", "Emit Raw Text On Error", cfg.Coercion.EmitRawToolCallTextOnError)
	fmt.Printf("  %-25s: %d\n", "Max Buffered Payload Bytes", cfg.Coercion.MaxBufferedPayloadBytes)

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	if cfg.Upstream.APIBase == "" {
		validationErrors = append(validationErrors, "upstream API base URL is required")
	}
	if cfg.Upstream.Model == "" {
		validationErrors = append(validationErrors, "upstream model is required")
	}
	if !isKnownProtocol(cfg.Protocol) {
		validationErrors = append(validationErrors, fmt.Sprintf("protocol %q is not one of %s", cfg.Protocol, strings.Join(config.KnownProtocols, ", ")))
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")
		for _, err := range validationErrors {
			fmt.Printf("  - %s\n", err)
		}
		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if cfgMgr.Exists() && !force {
		configType := "JSON"
		if cfgMgr.HasYAML() {
			configType = "YAML"
		}

		color.Yellow("Configuration file already exists (%s format): %s", configType, cfgMgr.GetPath())
		color.Cyan("Use --force to overwrite, or 'tcb config show' to view current config")

		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example YAML configuration created: %s", cfgMgr.GetYAMLPath())
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit the configuration file to add your upstream API key")
	fmt.Println("2. Pick the protocol your upstream model should speak")
	fmt.Println("3. Run 'tcb config validate' to check your configuration")
	fmt.Println("4. Start the bridge with 'tcb start'")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
