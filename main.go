// Command llmflow composes llm CLI completions into multi-step workflows.
package main

import "llmflow/internal/cli"

func main() {
	cli.Execute()
}
