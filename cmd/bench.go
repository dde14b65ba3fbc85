package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
	"github.com/mihaisavezi/toolcall-bridge/internal/textparser"
)

var benchCmd = &cobra.Command{
	Use:   "bench [transcript-file]",
	Short: "Parse a canned model transcript through the configured protocol",
	Long: `Pipes a canned transcript (raw text a text-only model would have emitted)
through the configured tool-call protocol's non-streaming parser, and prints
the resulting text/tool-call parts as JSON. Reads from stdin when no file is
given. Useful for manually inspecting how a protocol variant parses a
transcript without standing up an upstream model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)

	if len(args) == 1 {
		raw, err = os.ReadFile(args[0])
	} else {
		raw, err = readStdinTranscript()
	}

	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}

	cfg := cfgMgr.Get()

	protocolName := "hermes"
	if cfg != nil && cfg.Protocol != "" {
		protocolName = cfg.Protocol
	}

	throwOnDuplicateStringTags := true
	if cfg != nil && cfg.Coercion.ThrowOnDuplicateStringTags != nil {
		throwOnDuplicateStringTags = *cfg.Coercion.ThrowOnDuplicateStringTags
	}

	proto, err := benchResolveProtocol(protocolName, throwOnDuplicateStringTags)
	if err != nil {
		return err
	}

	color.Blue("Parsing transcript with protocol %q...", proto.Name())

	parts := textparser.Parse(string(raw), nil, proto)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(parts)
}

func benchResolveProtocol(name string, throwOnDuplicateStringTags bool) (protocol.Protocol, error) {
	switch name {
	case "hermes", "":
		return protocol.NewHermes(), nil
	case "gemma":
		return protocol.NewGemma(), nil
	case "xml-element":
		return protocol.NewXMLElementWithPolicy(throwOnDuplicateStringTags), nil
	case "ui-tars":
		return protocol.NewUITARS(), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", name)
	}
}

func readStdinTranscript() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("no transcript file given and stdin is a terminal")
	}

	return io.ReadAll(os.Stdin)
}
