package llm

import (
	"context"
	"testing"
)

func TestFactorySelectsProvider(t *testing.T) {
	factory := NewFactory(&fakeConverseAPI{})

	client, err := factory.New(context.Background(), Settings{Provider: "Bedrock"})
	if err != nil {
		t.Fatalf("bedrock: %v", err)
	}
	if _, ok := client.(*BedrockClient); !ok {
		t.Errorf("expected *BedrockClient, got %T", client)
	}

	client, err = factory.New(context.Background(), Settings{Provider: "openai", APIKey: "sk-x"})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Errorf("expected *OpenAIClient, got %T", client)
	}
}

func TestFactoryBedrockWithoutAWS(t *testing.T) {
	factory := NewFactory(nil)
	if _, err := factory.New(context.Background(), Settings{Provider: "bedrock"}); err == nil {
		t.Error("expected error when bedrock is selected without AWS credentials")
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	factory := NewFactory(nil)
	if _, err := factory.New(context.Background(), Settings{Provider: "llama-local"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFactoryOpenAIRequiresKey(t *testing.T) {
	factory := NewFactory(nil)
	if _, err := factory.New(context.Background(), Settings{Provider: "openai"}); err == nil {
		t.Error("expected error for missing openai key")
	}
}
