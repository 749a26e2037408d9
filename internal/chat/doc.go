// Package chat drives one generation: invoke the model, run any tool calls
// it asks for, feed the results back, and repeat until the model answers
// without tools or the step limit is reached.
package chat
