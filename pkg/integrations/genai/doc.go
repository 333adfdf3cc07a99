// Package genai provides a client for OpenAI-compatible chat-completion
// endpoints, used to generate project descriptions and tags.
//
// The generator treats the model as an opaque text function: it sends the
// project context and returns trimmed text. Any failure, including an empty
// completion, is returned as an error for the caller to record.
package genai
