// Package llm defines the decision oracle contract: a conversation plus tool
// declarations go in, and either a final reply or a list of tool calls comes
// back. Provider adapters live in the subpackages.
package llm
