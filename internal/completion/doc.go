// Package completion produces assistant replies for coven-chat.
//
// A Service receives the full history of a thread and answers with either a
// whole store.Message or a Stream of text fragments. The conversation
// controller treats both the same way: the fragments of a stream,
// concatenated in order, are the assistant's message.
//
// Providers:
//
//   - OpenAI: any OpenAI-compatible chat completions endpoint via go-openai
//   - Echo: offline markdown echo of the user's last message
//
// New selects a provider from config.CompletionConfig.
package completion
