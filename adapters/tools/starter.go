package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gurpartap/promptgraph/executable"
)

// Echo returns its input unchanged.
func Echo() executable.Executable {
	return executable.New(executable.Info{
		Name:         "test_echo",
		Description:  "An echo tool that returns the input as output.",
		Version:      "1.0.0",
		InputSchema:  SingleParamSchema("message", "The message to echo.", true),
		OutputSchema: SingleParamSchema("message", "The echoed message.", false),
	}, func(_ context.Context, input json.RawMessage, _ *executable.ExecContext) (json.RawMessage, error) {
		return append(json.RawMessage(nil), input...), nil
	})
}

// SentimentStub reports a fixed positive sentiment.
func SentimentStub() executable.Executable {
	return Func(Spec{
		Name:        "test_sentiment_analysis",
		Description: "A fake sentiment analysis tool that returns a fixed sentiment.",
		InputSchema: SingleParamSchema("input_text", "The text to analyze.", true),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{` +
			`"input_text":{"type":"string"},` +
			`"sentiment":{"type":"string","enum":["positive","negative","neutral"]},` +
			`"confidence":{"type":"number"}},` +
			`"required":["input_text","sentiment","confidence"]}`),
	}, func(_ context.Context, arguments map[string]any) (string, error) {
		text, _ := arguments["input_text"].(string)
		out, err := json.Marshal(map[string]any{
			"input_text": text,
			"sentiment":  "positive",
			"confidence": 0.95,
		})
		if err != nil {
			return "", fmt.Errorf("encode sentiment: %w", err)
		}
		return string(out), nil
	})
}

// SearchStub returns a fixed set of search results.
func SearchStub() executable.Executable {
	return Stub(Spec{
		Name:        "test_internet_search",
		Description: "A fake internet search tool that returns a fixed result.",
		InputSchema: SingleParamSchema("query", "The search query.", true),
	}, json.RawMessage(`{"query":"example query","num_results":2,"results":[`+
		`{"title":"Example Domain","url":"https://www.example.com","snippet":"This domain is for use in illustrative examples in documents."},`+
		`{"title":"Example - Wikipedia","url":"https://en.wikipedia.org/wiki/Example","snippet":"An example is a representative form or pattern."}]}`))
}

// Starter is the default tool library.
func Starter() *executable.Registry {
	return executable.MustRegistry(Echo(), SentimentStub(), SearchStub())
}
