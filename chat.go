package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quill-llm/config"
	"quill-llm/logger"
	"quill-llm/proxy"
	"quill-llm/types"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

var chatOpts struct {
	modelName string
	modelType string
	system    string
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send one prompt and print the normalized event stream",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatOpts.modelName, "model-name", "", "configured model to use (defaults to the selection in the models file)")
	chatCmd.Flags().StringVar(&chatOpts.modelType, "model-type", string(config.ModelTypeChat), "model selection to use: CHAT, WRITING or EDITING")
	chatCmd.Flags().StringVar(&chatOpts.system, "system", "", "system prompt")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	resolved, err := models.Resolve(config.ModelOverrides{ModelName: chatOpts.modelName}, config.ModelType(chatOpts.modelType))
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}

	var messages []types.OpenAIMessage
	if chatOpts.system != "" {
		messages = append(messages, types.OpenAIMessage{Role: "system", Content: chatOpts.system})
	}
	messages = append(messages, types.OpenAIMessage{Role: "user", Content: strings.Join(args, " ")})

	client := proxy.NewClient(proxy.ClientOptions{
		ToolDescriptions: cfg.ToolDescriptions,
		LoggerConfig:     logger.NewConfigAdapter(cfg),
	})
	req := proxy.ChatRequest{
		BaseURL:                 resolved.BaseURL,
		APIKey:                  resolved.APIKey,
		Model:                   resolved.Model,
		Timeout:                 resolved.Timeout(),
		SupportsFunctionCalling: resolved.SupportsFunctionCalling,
		Messages:                messages,
		Temperature:             cfg.DefaultTemperature,
		MaxTokens:               cfg.DefaultMaxTokens,
		Stream:                  true,
	}

	return printEvents(cmd, client, req)
}

// printEvents renders the stream: thinking dimmed, tool calls as JSON lines
func printEvents(cmd *cobra.Command, client *proxy.Client, req proxy.ChatRequest) error {
	out := cmd.OutOrStdout()
	for event := range client.Stream(cmd.Context(), req) {
		switch event.Kind {
		case types.EventContent:
			fmt.Fprint(out, event.Text)
		case types.EventThinking:
			fmt.Fprint(out, ansiDim+event.Text+ansiReset)
		case types.EventToolCalls:
			data, err := json.Marshal(event.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			fmt.Fprintf(out, "\n%s\n", data)
		case types.EventError:
			fmt.Fprintln(out)
			return event.Err
		case types.EventDone:
			fmt.Fprintln(out)
		}
	}
	return nil
}
