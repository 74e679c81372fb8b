// Package llm implements the vision recognizer: a generative vision model that
// reads a payment screenshot and answers with structured payment fields. It
// supports OpenAI, Anthropic and Ollama through langchaingo, with retry and
// request rate limiting.
package llm
